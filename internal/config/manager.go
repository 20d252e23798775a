// Package config resolves process settings from the source selected by
// CONFIG_PROVIDER: the environment (default) or a HashiCorp Vault KV v2 secret.
package config

import (
	"fmt"
	"os"
	"strings"
)

// Source describes a backend that can provide configuration values.
type Source interface {
	Get(key string) (string, error)
	Name() string
}

// Manager proxies lookups to a single Source.
type Manager struct {
	source Source
}

// NewManager returns a Manager for the named provider ("env" or "vault").
func NewManager(provider string) (*Manager, error) {
	src, err := newSource(provider)
	if err != nil {
		return nil, err
	}
	return &Manager{source: src}, nil
}

// FromEnv selects the provider named by CONFIG_PROVIDER.
func FromEnv() (*Manager, error) {
	return NewManager(os.Getenv("CONFIG_PROVIDER"))
}

// WithSource wraps an already constructed Source.
func WithSource(src Source) *Manager {
	return &Manager{source: src}
}

func (m *Manager) Get(key string) (string, error) {
	return m.source.Get(key)
}

// GetDefault returns the value if available, otherwise falls back to defaultVal.
func (m *Manager) GetDefault(key, defaultVal string) string {
	val, err := m.Get(key)
	if err != nil || val == "" {
		return defaultVal
	}
	return val
}

// Name reports the active source.
func (m *Manager) Name() string {
	return m.source.Name()
}

func newSource(name string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "env":
		return NewEnvSource(), nil
	case "vault":
		return NewVaultSource()
	default:
		return nil, fmt.Errorf("unknown config provider: %s", name)
	}
}
