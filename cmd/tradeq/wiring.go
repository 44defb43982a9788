package main

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"tradeq/internal/config"
	"tradeq/internal/domain"
	"tradeq/internal/inference"
	"tradeq/internal/inference/gemini"
	"tradeq/internal/inference/openai"
	"tradeq/internal/logging"
	"tradeq/internal/schema"
	"tradeq/internal/secrets"
	"tradeq/internal/service"
	"tradeq/internal/store/memory"
	"tradeq/internal/store/mongo"
)

// keychain opens the OS keychain on first use. It yields nil when no native
// keychain is available; secrets then come from the environment only.
func keychain(log *zap.Logger) func() *secrets.Store {
	return sync.OnceValue(func() *secrets.Store {
		keys, err := secrets.Open()
		if err != nil {
			log.Debug("keychain unavailable", zap.Error(err))
			return nil
		}
		return keys
	})
}

func loadSchema(cfg *config.AppConfig) (*schema.Descriptor, error) {
	if cfg.SchemaFile == "" {
		return schema.Default(), nil
	}
	return schema.LoadFile(cfg.SchemaFile)
}

func buildInferrer(ctx context.Context, cfg *config.AppConfig, keys func() *secrets.Store) (domain.Inferrer, error) {
	switch cfg.Inference.Type {
	case "openai":
		c := cfg.Inference.OpenAI
		key, err := secrets.Resolve(c.APIKeyEnv, keys())
		if err != nil {
			return nil, fmt.Errorf("openai api key: %w", err)
		}
		return openai.NewClient(openai.Config{
			BaseURL: c.BaseURL,
			APIKey:  key,
			Model:   c.Model,
			Timeout: config.Seconds(c.TimeoutSecs),
		})
	case "ollama":
		c := cfg.Inference.Ollama
		var key string
		if c.APIKeyEnv != "" {
			k, err := secrets.Resolve(c.APIKeyEnv, keys())
			if err != nil {
				return nil, fmt.Errorf("ollama api key: %w", err)
			}
			key = k
		}
		return openai.NewClient(openai.Config{
			BaseURL: c.BaseURL,
			APIKey:  key,
			Model:   c.Model,
			Ollama:  true,
			Timeout: config.Seconds(c.TimeoutSecs),
		})
	case "gemini":
		c := cfg.Inference.Gemini
		key, err := secrets.Resolve(c.APIKeyEnv, keys())
		if err != nil {
			return nil, fmt.Errorf("gemini api key: %w", err)
		}
		return gemini.NewClient(ctx, gemini.Config{APIKey: key, Model: c.Model, BaseURL: c.BaseURL})
	case "static":
		return inference.NewStatic(cfg.Inference.StaticReply), nil
	default:
		return nil, fmt.Errorf("unknown inference type: %s", cfg.Inference.Type)
	}
}

func buildStore(ctx context.Context, cfg *config.AppConfig, keys func() *secrets.Store, log *zap.Logger) (domain.Store, error) {
	switch cfg.Store.Type {
	case "memory":
		st := memory.NewStorage()
		if cfg.Store.Fixtures != "" {
			if err := st.LoadFile(cfg.Store.Fixtures); err != nil {
				return nil, err
			}
		}
		return st, nil
	case "mongo":
		c := cfg.Store.Mongo
		uri, err := secrets.Resolve(c.URIEnv, keys())
		if err != nil {
			return nil, fmt.Errorf("mongo uri: %w", err)
		}
		log.Info("connecting to mongo", zap.String("uri", logging.Mask(uri)), zap.String("database", c.Database))
		return mongo.Connect(ctx, mongo.Config{
			URI:      uri,
			Database: c.Database,
			Timeout:  config.Seconds(c.TimeoutSecs),
			MaxTime:  config.Seconds(c.MaxTimeSecs),
		})
	default:
		return nil, fmt.Errorf("unknown store: %s", cfg.Store.Type)
	}
}

// buildService assembles the query service from config. The returned
// store must be closed by the caller.
func buildService(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (*service.TradeQueryService, domain.Store, error) {
	desc, err := loadSchema(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("schema: %w", err)
	}
	keys := keychain(log)
	inf, err := buildInferrer(ctx, cfg, keys)
	if err != nil {
		return nil, nil, err
	}
	st, err := buildStore(ctx, cfg, keys, log)
	if err != nil {
		return nil, nil, err
	}
	svc, err := service.NewTradeQueryService(service.Options{
		Schema:            desc,
		Inferrer:          inf,
		Store:             st,
		DefaultCollection: cfg.DefaultCollection(),
		MaxResults:        cfg.Query.MaxResults,
		Logger:            log,
	})
	if err != nil {
		_ = st.Close(ctx)
		return nil, nil, err
	}
	log.Info("service ready",
		zap.String("inference", inf.Name()),
		zap.String("store", cfg.Store.Type),
		zap.String("schema_version", desc.Version),
		zap.Int("max_results", cfg.Query.MaxResults),
	)
	return svc, st, nil
}
