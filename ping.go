package turnstileproxy

import (
	"context"
	"fmt"
	"github.com/gorilla/websocket"
	"net/url"
	"sync"
	"time"
)

// readinessTTL is how long a Ping outcome is reused by /ready.
const readinessTTL = 30 * time.Second

// Ping checks that the configured browser can be reached. Remote modes
// complete a websocket handshake with the endpoint and hang up; local mode
// has nothing to dial and always succeeds.
//
// Hosted providers such as browserless start (and bill) a browser session for
// every handshake, so callers polling readiness should go through a
// readiness cache rather than calling Ping directly.
func Ping(ctx context.Context, cfg Config) error {
	if !cfg.Mode.Remote() {
		return nil
	}

	endpoint, err := cfg.EndpointURL()
	if err != nil {
		return err
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("%s endpoint %s unreachable: %w", cfg.Mode, u.Host, err)
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return conn.Close()
}

// readiness caches Ping outcomes for ttl. Concurrent checks share one dial.
type readiness struct {
	cfg  Config
	ttl  time.Duration
	ping func(ctx context.Context, cfg Config) error

	mu      sync.Mutex
	checked time.Time
	err     error
}

func newReadiness(cfg Config, ttl time.Duration) *readiness {
	return &readiness{cfg: cfg, ttl: ttl, ping: Ping}
}

func (r *readiness) Check(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.checked.IsZero() && time.Since(r.checked) < r.ttl {
		return r.err
	}

	err := r.ping(ctx, r.cfg)
	if ctx.Err() != nil {
		// the caller gave up, nothing was learned about the endpoint
		return err
	}
	r.checked, r.err = time.Now(), err
	return err
}
