package turnstileproxy

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Mode selects how the browser is obtained for each request.
type Mode string

const (
	// ModeCDP connects to a remote Chrome DevTools Protocol endpoint.
	ModeCDP Mode = "cdp"
	// ModePlaywright connects to a remote Playwright server endpoint.
	ModePlaywright Mode = "playwright"
	// ModeLocal launches a local headless Chrome.
	ModeLocal Mode = "local"
)

// Remote reports whether the mode talks to a browser outside this process.
func (m Mode) Remote() bool {
	return m == ModeCDP || m == ModePlaywright
}

// ParseMode accepts the mode names case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeCDP, ModePlaywright, ModeLocal:
		return m, nil
	}
	return "", fmt.Errorf("unknown browser mode %q (cdp|playwright|local)", s)
}

// HTTP engines served by Serve.
const (
	EngineMux   = "mux"
	EngineFiber = "fiber"
)

const (
	DefaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 900
	DefaultTokenSelector  = `input[name="cf-turnstile-response"]`
	DefaultMinTokenLength = 20
	DefaultPollInterval   = 300 * time.Millisecond
	DefaultTimeout        = 10 * time.Second
	DefaultNavTimeout     = 30 * time.Second
	DefaultListenAddr     = ":8080"

	defaultCDPEndpoint        = "wss://chrome.browserless.io"
	defaultPlaywrightEndpoint = "wss://chrome.browserless.io/playwright"
)

// Config is read once at startup.
type Config struct {
	Mode Mode
	// Endpoint is the websocket address of the remote browser. Empty selects
	// the browserless.io endpoint for the mode.
	Endpoint string
	// Token is appended to Endpoint as the "token" query parameter.
	Token        string
	RequireToken bool

	// Undetected launches local Chrome through chromedp-undetected; when
	// false a plain exec allocator with stealth flags is used.
	Undetected bool
	ExecPath   string

	UserAgent      string
	ViewportWidth  int
	ViewportHeight int

	TokenSelector  string
	MinTokenLength int
	PollInterval   time.Duration
	Timeout        time.Duration
	NavTimeout     time.Duration

	// MaxSessions bounds concurrent browser sessions, 0 means unbounded.
	MaxSessions int

	ListenAddr string
	Engine     string
	LogLevel   string
}

// DefaultConfig returns the compiled-in defaults.
func DefaultConfig() Config {
	return Config{
		Mode:           ModeLocal,
		RequireToken:   true,
		Undetected:     true,
		UserAgent:      DefaultUserAgent,
		ViewportWidth:  DefaultViewportWidth,
		ViewportHeight: DefaultViewportHeight,
		TokenSelector:  DefaultTokenSelector,
		MinTokenLength: DefaultMinTokenLength,
		PollInterval:   DefaultPollInterval,
		Timeout:        DefaultTimeout,
		NavTimeout:     DefaultNavTimeout,
		ListenAddr:     DefaultListenAddr,
		Engine:         EngineMux,
		LogLevel:       "info",
	}
}

// Getter is a source of configuration values. Missing keys return an error.
type Getter interface {
	Get(key string) (string, error)
}

// LoadConfig overlays the values found in src on top of DefaultConfig.
func LoadConfig(src Getter) (Config, error) {
	cfg := DefaultConfig()
	l := loader{src: src}

	if v, ok := l.str("BROWSER_MODE"); ok {
		mode, err := ParseMode(v)
		if err != nil {
			return cfg, NewConfigError("BROWSER_MODE", err.Error())
		}
		cfg.Mode = mode
	}
	l.setStr("BROWSER_ENDPOINT", &cfg.Endpoint)
	l.setStr("BROWSERLESS_TOKEN", &cfg.Token)
	l.setBool("BROWSER_REQUIRE_TOKEN", &cfg.RequireToken)
	l.setBool("CHROME_UNDETECTED", &cfg.Undetected)
	l.setStr("CHROME_PATH", &cfg.ExecPath)
	l.setStr("USER_AGENT", &cfg.UserAgent)
	l.setInt("VIEWPORT_WIDTH", &cfg.ViewportWidth)
	l.setInt("VIEWPORT_HEIGHT", &cfg.ViewportHeight)
	l.setStr("TOKEN_SELECTOR", &cfg.TokenSelector)
	l.setInt("MIN_TOKEN_LENGTH", &cfg.MinTokenLength)
	l.setDuration("POLL_INTERVAL", &cfg.PollInterval)
	l.setDuration("SOLVE_TIMEOUT", &cfg.Timeout)
	l.setDuration("NAVIGATION_TIMEOUT", &cfg.NavTimeout)
	l.setInt("MAX_SESSIONS", &cfg.MaxSessions)
	if port, ok := l.str("PORT"); ok {
		cfg.ListenAddr = ":" + port
	}
	l.setStr("LISTEN_ADDR", &cfg.ListenAddr)
	l.setStr("HTTP_ENGINE", &cfg.Engine)
	l.setStr("LOG_LEVEL", &cfg.LogLevel)

	if l.err != nil {
		return cfg, l.err
	}
	return cfg, nil
}

// Validate checks the configuration before any request is accepted.
func (c Config) Validate() error {
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return NewConfigError("BROWSER_MODE", err.Error())
	}
	if c.Mode.Remote() && c.RequireToken && c.Token == "" {
		return NewConfigError("BROWSERLESS_TOKEN", fmt.Sprintf("access token required for %s mode", c.Mode))
	}
	if c.Mode.Remote() {
		if _, err := c.EndpointURL(); err != nil {
			return NewConfigError("BROWSER_ENDPOINT", err.Error())
		}
	}
	if c.ViewportWidth <= 0 || c.ViewportHeight <= 0 {
		return NewConfigError("VIEWPORT_WIDTH", "viewport dimensions must be positive")
	}
	if c.MinTokenLength < 0 {
		return NewConfigError("MIN_TOKEN_LENGTH", "must not be negative")
	}
	if c.PollInterval <= 0 {
		return NewConfigError("POLL_INTERVAL", "must be positive")
	}
	if c.Timeout <= 0 {
		return NewConfigError("SOLVE_TIMEOUT", "must be positive")
	}
	if c.NavTimeout <= 0 {
		return NewConfigError("NAVIGATION_TIMEOUT", "must be positive")
	}
	if c.MaxSessions < 0 {
		return NewConfigError("MAX_SESSIONS", "must not be negative")
	}
	if strings.TrimSpace(c.TokenSelector) == "" {
		return NewConfigError("TOKEN_SELECTOR", "must not be empty")
	}
	switch c.Engine {
	case EngineMux, EngineFiber:
	default:
		return NewConfigError("HTTP_ENGINE", fmt.Sprintf("unknown engine %q (mux|fiber)", c.Engine))
	}
	return nil
}

// EndpointURL returns the remote endpoint with the access token applied.
func (c Config) EndpointURL() (string, error) {
	endpoint := c.Endpoint
	if endpoint == "" {
		switch c.Mode {
		case ModeCDP:
			endpoint = defaultCDPEndpoint
		case ModePlaywright:
			endpoint = defaultPlaywrightEndpoint
		default:
			return "", fmt.Errorf("mode %s has no remote endpoint", c.Mode)
		}
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return "", fmt.Errorf("invalid endpoint scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid endpoint %q: missing host", endpoint)
	}
	if c.Token != "" {
		q := u.Query()
		q.Set("token", c.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// identity builds the browsing context configuration for req.
func (c Config) identity(req Request) Identity {
	ua := c.UserAgent
	if req.UserAgent != "" {
		ua = req.UserAgent
	}
	return Identity{
		TargetURL: req.URL,
		UserAgent: ua,
		Viewport: Viewport{
			Width:  int64(c.ViewportWidth),
			Height: int64(c.ViewportHeight),
		},
		Cookies: req.Cookies,
	}
}

// loader records the first parse failure and ignores missing keys.
type loader struct {
	src Getter
	err error
}

func (l *loader) str(key string) (string, bool) {
	v, err := l.src.Get(key)
	if err != nil {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (l *loader) setStr(key string, dst *string) {
	if v, ok := l.str(key); ok {
		*dst = v
	}
}

func (l *loader) setBool(key string, dst *bool) {
	v, ok := l.str(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.fail(key, fmt.Sprintf("invalid boolean %q", v))
		return
	}
	*dst = b
}

func (l *loader) setInt(key string, dst *int) {
	v, ok := l.str(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.fail(key, fmt.Sprintf("invalid integer %q", v))
		return
	}
	*dst = n
}

// setDuration accepts Go durations ("300ms") or plain seconds ("10", "0.3").
func (l *loader) setDuration(key string, dst *time.Duration) {
	v, ok := l.str(key)
	if !ok {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		l.fail(key, fmt.Sprintf("invalid duration %q", v))
		return
	}
	*dst = time.Duration(secs * float64(time.Second))
}

func (l *loader) fail(key, message string) {
	if l.err == nil {
		l.err = NewConfigError(key, message)
	}
}
