package config

import (
	"context"
	"fmt"
	vault "github.com/hashicorp/vault/api"
	"os"
	"sync"
	"time"
)

const vaultTimeout = 10 * time.Second

// VaultSource reads every setting from the fields of one KV v2 secret,
// "<VAULT_PATH>/data/<VAULT_SECRET>". Environment variables take precedence.
type VaultSource struct {
	client     *vault.Client
	mountPath  string
	secretPath string

	once   sync.Once
	fields map[string]interface{}
	err    error
}

func NewVaultSource() (*VaultSource, error) {
	addr := os.Getenv("VAULT_ADDR")
	token := os.Getenv("VAULT_TOKEN")
	mount := os.Getenv("VAULT_PATH")
	if mount == "" {
		mount = "secret"
	}
	secret := os.Getenv("VAULT_SECRET")
	if secret == "" {
		secret = "turnstileproxy"
	}
	if addr == "" || token == "" {
		return nil, fmt.Errorf("vault config requires VAULT_ADDR and VAULT_TOKEN")
	}

	client, err := vault.NewClient(&vault.Config{Address: addr})
	if err != nil {
		return nil, fmt.Errorf("vault client init error: %w", err)
	}
	client.SetToken(token)
	return &VaultSource{
		client:     client,
		mountPath:  mount,
		secretPath: secret,
	}, nil
}

func (v *VaultSource) Name() string {
	return "vault"
}

func (v *VaultSource) Get(key string) (string, error) {
	if val := os.Getenv(key); val != "" {
		return val, nil
	}

	fields, err := v.load()
	if err != nil {
		return "", err
	}
	val, ok := fields[key]
	if !ok || val == nil {
		return "", fmt.Errorf("vault secret %s has no field %s", v.secretPath, key)
	}
	return fmt.Sprint(val), nil
}

// load fetches the secret on first use and caches the outcome.
func (v *VaultSource) load() (map[string]interface{}, error) {
	v.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), vaultTimeout)
		defer cancel()

		secret, err := v.client.KVv2(v.mountPath).Get(ctx, v.secretPath)
		if err != nil {
			v.err = fmt.Errorf("vault read error: %w", err)
			return
		}
		v.fields = secret.Data
	})
	return v.fields, v.err
}
