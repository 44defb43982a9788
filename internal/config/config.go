package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"tradeq/internal/domain"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr                string `yaml:"addr"`
	ReadTimeoutSecs     int    `yaml:"read_timeout_secs"`
	WriteTimeoutSecs    int    `yaml:"write_timeout_secs"`
	ShutdownTimeoutSecs int    `yaml:"shutdown_timeout_secs"`
}

// ChatConfig holds configuration for an OpenAI-compatible or Ollama chat endpoint.
type ChatConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// GeminiConfig holds configuration for the Gemini API.
type GeminiConfig struct {
	BaseURL   string `yaml:"base_url,omitempty"`
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
}

// InferenceConfig selects and configures the inference provider.
type InferenceConfig struct {
	Type   string        `yaml:"type"`
	OpenAI *ChatConfig   `yaml:"openai,omitempty"`
	Ollama *ChatConfig   `yaml:"ollama,omitempty"`
	Gemini *GeminiConfig `yaml:"gemini,omitempty"`
	// StaticReply is returned verbatim by the "static" provider.
	StaticReply string `yaml:"static_reply,omitempty"`
}

// MongoConfig contains connection details for MongoDB.
type MongoConfig struct {
	URIEnv      string `yaml:"uri_env"`
	Database    string `yaml:"database"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	MaxTimeSecs int    `yaml:"max_time_secs"`
}

// StoreConfig selects and configures the document store.
type StoreConfig struct {
	Type  string       `yaml:"type"`
	Mongo *MongoConfig `yaml:"mongo,omitempty"`
	// Fixtures is an Extended JSON file loaded into the memory store.
	Fixtures string `yaml:"fixtures,omitempty"`
}

// QueryConfig tunes how plans are executed.
type QueryConfig struct {
	MaxResults        int    `yaml:"max_results"`
	DefaultCollection string `yaml:"default_collection"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Server     ServerConfig    `yaml:"server"`
	Inference  InferenceConfig `yaml:"inference"`
	Store      StoreConfig     `yaml:"store"`
	Query      QueryConfig     `yaml:"query"`
	Logging    LoggingConfig   `yaml:"logging"`
	SchemaFile string          `yaml:"schema_file,omitempty"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/tradeq/config.yaml.
// If neither exists, it writes defaults to ~/.config/tradeq/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate reports the first structural problem in cfg. Secrets are checked
// when the components are built, not here.
func (c *AppConfig) Validate() error {
	switch c.Inference.Type {
	case "openai", "ollama", "gemini", "static":
	default:
		return fmt.Errorf("unknown inference type %q", c.Inference.Type)
	}
	switch c.Store.Type {
	case "mongo":
		if c.Store.Mongo == nil || c.Store.Mongo.Database == "" {
			return errors.New("store.mongo.database is required")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store type %q", c.Store.Type)
	}
	if _, ok := domain.ParseCollection(c.Query.DefaultCollection); !ok {
		return fmt.Errorf("query.default_collection %q is not a known collection", c.Query.DefaultCollection)
	}
	if c.Query.MaxResults < 0 {
		return errors.New("query.max_results must not be negative")
	}
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	return nil
}

// DefaultCollection returns the parsed query.default_collection.
// Call Validate first.
func (c *AppConfig) DefaultCollection() domain.Collection {
	col, _ := domain.ParseCollection(c.Query.DefaultCollection)
	return col
}

func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "tradeq", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Inference: InferenceConfig{Type: "openai"},
		Store:     StoreConfig{Type: "mongo"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":5001"
	}
	if cfg.Server.ReadTimeoutSecs == 0 {
		cfg.Server.ReadTimeoutSecs = 15
	}
	if cfg.Server.WriteTimeoutSecs == 0 {
		cfg.Server.WriteTimeoutSecs = 120
	}
	if cfg.Server.ShutdownTimeoutSecs == 0 {
		cfg.Server.ShutdownTimeoutSecs = 10
	}

	if cfg.Inference.Type == "" {
		cfg.Inference.Type = "openai"
	}
	switch cfg.Inference.Type {
	case "openai":
		if cfg.Inference.OpenAI == nil {
			cfg.Inference.OpenAI = &ChatConfig{}
		}
		chatDefaults(cfg.Inference.OpenAI, "https://api.openai.com/v1", "OPENAI_API_KEY", "gpt-4o-mini")
	case "ollama":
		if cfg.Inference.Ollama == nil {
			cfg.Inference.Ollama = &ChatConfig{}
		}
		chatDefaults(cfg.Inference.Ollama, "http://localhost:11434", "", "llama3")
	case "gemini":
		if cfg.Inference.Gemini == nil {
			cfg.Inference.Gemini = &GeminiConfig{}
		}
		if cfg.Inference.Gemini.APIKeyEnv == "" {
			cfg.Inference.Gemini.APIKeyEnv = "GEMINI_API_KEY"
		}
		if cfg.Inference.Gemini.Model == "" {
			cfg.Inference.Gemini.Model = "gemini-2.0-flash"
		}
	}

	if cfg.Store.Type == "" {
		cfg.Store.Type = "mongo"
	}
	if cfg.Store.Type == "mongo" {
		if cfg.Store.Mongo == nil {
			cfg.Store.Mongo = &MongoConfig{}
		}
		if cfg.Store.Mongo.URIEnv == "" {
			cfg.Store.Mongo.URIEnv = "MONGODB_URI"
		}
		if cfg.Store.Mongo.Database == "" {
			cfg.Store.Mongo.Database = "Trade"
		}
		if cfg.Store.Mongo.TimeoutSecs == 0 {
			cfg.Store.Mongo.TimeoutSecs = 10
		}
		if cfg.Store.Mongo.MaxTimeSecs == 0 {
			cfg.Store.Mongo.MaxTimeSecs = 30
		}
	}

	if cfg.Query.MaxResults == 0 {
		cfg.Query.MaxResults = 100
	}
	if cfg.Query.DefaultCollection == "" {
		cfg.Query.DefaultCollection = domain.Trades.String()
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func chatDefaults(c *ChatConfig, baseURL, keyEnv, model string) {
	if c.BaseURL == "" {
		c.BaseURL = baseURL
	}
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = keyEnv
	}
	if c.Model == "" {
		c.Model = model
	}
	if c.TimeoutSecs == 0 {
		c.TimeoutSecs = 60
	}
}
