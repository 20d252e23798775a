package turnstileproxy

import (
	"errors"
	"testing"
	"time"
)

type mapGetter map[string]string

func (m mapGetter) Get(key string) (string, error) {
	val, ok := m[key]
	if !ok {
		return "", errors.New("missing " + key)
	}
	return val, nil
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(mapGetter{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg != DefaultConfig() {
		t.Errorf("expected defaults, got %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := LoadConfig(mapGetter{
		"BROWSER_MODE":       "Playwright",
		"BROWSERLESS_TOKEN":  "secret",
		"CHROME_UNDETECTED":  "false",
		"VIEWPORT_WIDTH":     "1920",
		"MIN_TOKEN_LENGTH":   "30",
		"POLL_INTERVAL":      "500ms",
		"SOLVE_TIMEOUT":      "2.5",
		"NAVIGATION_TIMEOUT": "1m",
		"MAX_SESSIONS":       "4",
		"PORT":               "3000",
		"HTTP_ENGINE":        "fiber",
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != ModePlaywright {
		t.Errorf("expected playwright mode, got %s", cfg.Mode)
	}
	if cfg.Token != "secret" || cfg.Undetected || cfg.ViewportWidth != 1920 || cfg.MinTokenLength != 30 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.PollInterval != 500*time.Millisecond {
		t.Errorf("expected 500ms poll interval, got %s", cfg.PollInterval)
	}
	if cfg.Timeout != 2500*time.Millisecond {
		t.Errorf("expected 2.5s timeout, got %s", cfg.Timeout)
	}
	if cfg.NavTimeout != time.Minute {
		t.Errorf("expected 1m navigation timeout, got %s", cfg.NavTimeout)
	}
	if cfg.MaxSessions != 4 || cfg.ListenAddr != ":3000" || cfg.Engine != EngineFiber {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestLoadConfigListenAddrWinsOverPort(t *testing.T) {
	cfg, err := LoadConfig(mapGetter{"PORT": "3000", "LISTEN_ADDR": "127.0.0.1:9000"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != "127.0.0.1:9000" {
		t.Errorf("expected LISTEN_ADDR, got %s", cfg.ListenAddr)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := map[string]mapGetter{
		"BROWSER_MODE":          {"BROWSER_MODE": "firefox"},
		"BROWSER_REQUIRE_TOKEN": {"BROWSER_REQUIRE_TOKEN": "maybe"},
		"VIEWPORT_HEIGHT":       {"VIEWPORT_HEIGHT": "tall"},
		"SOLVE_TIMEOUT":         {"SOLVE_TIMEOUT": "soon"},
	}
	for key, src := range tests {
		_, err := LoadConfig(src)
		var ce *ConfigError
		if !errors.As(err, &ce) {
			t.Errorf("%s: expected ConfigError, got %v", key, err)
			continue
		}
		if ce.Key != key {
			t.Errorf("expected error for %s, got %s", key, ce.Key)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		key    string
	}{
		{name: "local", modify: func(c *Config) {}},
		{name: "cdp without token", modify: func(c *Config) { c.Mode = ModeCDP }, key: "BROWSERLESS_TOKEN"},
		{name: "playwright without token", modify: func(c *Config) { c.Mode = ModePlaywright }, key: "BROWSERLESS_TOKEN"},
		{name: "cdp without required token", modify: func(c *Config) {
			c.Mode = ModeCDP
			c.RequireToken = false
			c.Endpoint = "ws://127.0.0.1:9222/devtools/browser/abc"
		}},
		{name: "cdp with token", modify: func(c *Config) { c.Mode = ModeCDP; c.Token = "t" }},
		{name: "unknown mode", modify: func(c *Config) { c.Mode = "firefox" }, key: "BROWSER_MODE"},
		{name: "bad endpoint", modify: func(c *Config) {
			c.Mode = ModeCDP
			c.Token = "t"
			c.Endpoint = "ftp://example.com"
		}, key: "BROWSER_ENDPOINT"},
		{name: "zero viewport", modify: func(c *Config) { c.ViewportWidth = 0 }, key: "VIEWPORT_WIDTH"},
		{name: "zero poll interval", modify: func(c *Config) { c.PollInterval = 0 }, key: "POLL_INTERVAL"},
		{name: "zero timeout", modify: func(c *Config) { c.Timeout = 0 }, key: "SOLVE_TIMEOUT"},
		{name: "negative sessions", modify: func(c *Config) { c.MaxSessions = -1 }, key: "MAX_SESSIONS"},
		{name: "empty selector", modify: func(c *Config) { c.TokenSelector = " " }, key: "TOKEN_SELECTOR"},
		{name: "unknown engine", modify: func(c *Config) { c.Engine = "gin" }, key: "HTTP_ENGINE"},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		tt.modify(&cfg)
		err := cfg.Validate()
		if tt.key == "" {
			if err != nil {
				t.Errorf("%s: unexpected error %v", tt.name, err)
			}
			continue
		}
		var ce *ConfigError
		if !errors.As(err, &ce) || ce.Key != tt.key {
			t.Errorf("%s: expected ConfigError for %s, got %v", tt.name, tt.key, err)
		}
	}
}

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		mode     Mode
		endpoint string
		token    string
		want     string
	}{
		{mode: ModePlaywright, token: "abc", want: "wss://chrome.browserless.io/playwright?token=abc"},
		{mode: ModeCDP, token: "abc", want: "wss://chrome.browserless.io?token=abc"},
		{mode: ModeCDP, endpoint: "ws://127.0.0.1:3000?stealth=true", token: "a b", want: "ws://127.0.0.1:3000?stealth=true&token=a+b"},
		{mode: ModeCDP, endpoint: "ws://127.0.0.1:9222/devtools/browser/x", want: "ws://127.0.0.1:9222/devtools/browser/x"},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		cfg.Mode = tt.mode
		cfg.Endpoint = tt.endpoint
		cfg.Token = tt.token
		got, err := cfg.EndpointURL()
		if err != nil {
			t.Errorf("%s %q: %v", tt.mode, tt.endpoint, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s %q: expected %s, got %s", tt.mode, tt.endpoint, tt.want, got)
		}
	}

	if _, err := DefaultConfig().EndpointURL(); err == nil {
		t.Error("expected local mode to have no endpoint")
	}
}
