package turnstileproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/rs/zerolog"
)

// Viewport is the emulated window size in CSS pixels.
type Viewport struct {
	Width  int64
	Height int64
}

// Identity is the configuration a browsing context is created with.
type Identity struct {
	TargetURL string
	UserAgent string
	Viewport  Viewport
	Cookies   []Cookie
}

// Acquirer produces one browsing context per call. Implementations hold no
// per-session state, so a single Acquirer serves concurrent requests.
type Acquirer interface {
	// Acquire returns a session configured with id and ready for navigation.
	// On error nothing is left to release.
	Acquire(ctx context.Context, id Identity) (Session, error)
}

// Session is a single browsing context owned by one request.
type Session interface {
	// Navigate loads url and returns once DOMContentLoaded fired.
	Navigate(ctx context.Context, url string) error
	// Value returns the value of the first element matching selector, or ""
	// when the element or its value is absent. Faults that are expected while
	// the page settles are returned as *PollError.
	Value(ctx context.Context, selector string) (string, error)
	// Close releases the browser. Calls after the first are no-ops.
	Close() error
}

// NewAcquirer returns the Acquirer for cfg.Mode.
func NewAcquirer(cfg Config, logger zerolog.Logger) (Acquirer, error) {
	switch cfg.Mode {
	case ModeCDP:
		endpoint, err := cfg.EndpointURL()
		if err != nil {
			return nil, NewConfigError("BROWSER_ENDPOINT", err.Error())
		}
		return &chromedpAcquirer{mode: ModeCDP, endpoint: endpoint, log: logger}, nil
	case ModePlaywright:
		endpoint, err := cfg.EndpointURL()
		if err != nil {
			return nil, NewConfigError("BROWSER_ENDPOINT", err.Error())
		}
		return &playwrightAcquirer{endpoint: endpoint, log: logger}, nil
	case ModeLocal:
		return &chromedpAcquirer{
			mode:       ModeLocal,
			undetected: cfg.Undetected,
			execPath:   cfg.ExecPath,
			log:        logger,
		}, nil
	}
	return nil, NewConfigError("BROWSER_MODE", fmt.Sprintf("unknown browser mode %q", cfg.Mode))
}

// valueScript returns the expression evaluated on every poll. It yields the
// element value or null.
func valueScript(selector string) string {
	quoted, _ := json.Marshal(selector)
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	return el && typeof el.value === "string" ? el.value : null;
})()`, quoted)
}
