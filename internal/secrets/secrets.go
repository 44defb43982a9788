// Package secrets resolves credentials from the environment, falling back to
// the OS keychain. Secrets are stored in the keychain under the name of the
// environment variable they stand in for, e.g. OPENAI_API_KEY.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/99designs/keyring"
)

// ServiceName identifies our keychain namespace.
const ServiceName = "tradeq"

// ErrNotFound is returned when a secret is in neither the environment nor the keychain.
var ErrNotFound = errors.New("secret not found")

// Store is a thread-safe view over one keyring.
type Store struct {
	mu   sync.RWMutex
	ring keyring.Keyring
}

// Open opens the OS keychain using native backends only. There is no
// file fallback.
func Open() (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: ServiceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.WinCredBackend,
			keyring.SecretServiceBackend,
			keyring.KWalletBackend,
			keyring.PassBackend,
		},
		PassPrefix:    ServiceName,
		WinCredPrefix: ServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("open keychain: %w", err)
	}
	return NewStore(ring), nil
}

func NewStore(ring keyring.Keyring) *Store { return &Store{ring: ring} }

func (s *Store) Get(name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, err := s.ring.Get(name)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if len(it.Data) == 0 {
		return "", ErrNotFound
	}
	return string(it.Data), nil
}

func (s *Store) Set(name, value string) error {
	if value == "" {
		return errors.New("refusing to store an empty secret")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.Set(keyring.Item{Key: name, Data: []byte(value), Label: ServiceName + " " + name})
}

func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.ring.Remove(name)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}

// Resolve returns the value of env, or the keychain entry of the same name
// when the variable is unset. store may be nil.
func Resolve(env string, store *Store) (string, error) {
	if env == "" {
		return "", fmt.Errorf("%w: no variable name configured", ErrNotFound)
	}
	if v := os.Getenv(env); v != "" {
		return v, nil
	}
	if store == nil {
		return "", fmt.Errorf("%w: %s is not set", ErrNotFound, env)
	}
	v, err := store.Get(env)
	if err != nil {
		return "", fmt.Errorf("%s is not set and the keychain lookup failed: %w", env, err)
	}
	return v, nil
}
