package turnstileproxy

import (
	"context"
	"errors"
	"fmt"
	chromedpundetected "github.com/Davincible/chromedp-undetected"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
	"sync"
	"time"
)

// closeTimeout bounds the graceful Browser.close on teardown
const closeTimeout = 5 * time.Second

// chromedpAcquirer serves ModeCDP and ModeLocal.
type chromedpAcquirer struct {
	mode       Mode
	endpoint   string
	undetected bool
	execPath   string
	log        zerolog.Logger
}

func (a *chromedpAcquirer) Acquire(ctx context.Context, id Identity) (Session, error) {
	browserCtx, cancel, err := a.browserContext(ctx, id)
	if err != nil {
		return nil, NewAcquireError(a.mode, err)
	}
	s := &chromedpSession{ctx: browserCtx, cancel: cancel}

	// the first Run connects to the remote browser or starts the local one
	if err := chromedp.Run(browserCtx, prepareActions(id)...); err != nil {
		_ = s.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, NewAcquireError(a.mode, err)
	}
	return s, nil
}

// logf routes chromedp's own error reports into the acquirer's logger.
func (a *chromedpAcquirer) logf(format string, args ...interface{}) {
	a.log.Debug().Msgf("chromedp: "+format, args...)
}

func (a *chromedpAcquirer) browserContext(ctx context.Context, id Identity) (context.Context, context.CancelFunc, error) {
	ctxOpts := []chromedp.ContextOption{chromedp.WithErrorf(a.logf)}

	switch {
	case a.mode == ModeCDP:
		allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(ctx, a.endpoint, chromedp.NoModifyURL)
		browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, ctxOpts...)
		return browserCtx, joinCancel(cancelBrowser, cancelAlloc), nil

	case a.undetected:
		return chromedpundetected.New(a.undetectedConfig(ctx, id, ctxOpts))

	default:
		opts := append(chromedp.DefaultExecAllocatorOptions[:], stealthFlags()...)
		opts = append(opts, launchFlags(id, a.execPath)...)
		allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
		browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, ctxOpts...)
		return browserCtx, joinCancel(cancelBrowser, cancelAlloc), nil
	}
}

func (a *chromedpAcquirer) undetectedConfig(ctx context.Context, id Identity, ctxOpts []chromedp.ContextOption) chromedpundetected.Config {
	cfg := chromedpundetected.NewConfig(
		chromedpundetected.WithContext(ctx),
		chromedpundetected.WithChromeFlags(launchFlags(id, a.execPath)...),
		chromedpundetected.WithHeadless(),
	)
	cfg.ContextOptions = ctxOpts
	return cfg
}

// prepareActions configures the identity before any navigation happens.
func prepareActions(id Identity) []chromedp.Action {
	actions := []chromedp.Action{
		emulation.SetUserAgentOverride(id.UserAgent),
		chromedp.EmulateViewport(id.Viewport.Width, id.Viewport.Height),
	}
	if cookies := cdpCookies(id); len(cookies) > 0 {
		actions = append(actions, network.SetCookies(cookies))
	}
	return actions
}

func cdpCookies(id Identity) []*network.CookieParam {
	if len(id.Cookies) == 0 {
		return nil
	}
	params := make([]*network.CookieParam, 0, len(id.Cookies))
	for _, c := range id.Cookies {
		params = append(params, &network.CookieParam{
			Name:   c.Name,
			Value:  c.Value,
			URL:    id.TargetURL,
			Domain: c.Domain,
			Path:   c.Path,
		})
	}
	return params
}

func launchFlags(id Identity, execPath string) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.UserAgent(id.UserAgent),
		chromedp.WindowSize(int(id.Viewport.Width), int(id.Viewport.Height)),
	}
	if execPath != "" {
		opts = append(opts, chromedp.ExecPath(execPath))
	}
	return opts
}

// stealthFlags hide the usual automation markers when launching without
// chromedp-undetected.
func stealthFlags() []chromedp.ExecAllocatorOption {
	return []chromedp.ExecAllocatorOption{
		chromedp.Flag("headless", "new"),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("password-store", "basic"),
		chromedp.Flag("use-mock-keychain", true),
	}
}

func joinCancel(fns ...context.CancelFunc) context.CancelFunc {
	return func() {
		for _, fn := range fns {
			fn()
		}
	}
}

type chromedpSession struct {
	ctx    context.Context
	cancel context.CancelFunc

	once     sync.Once
	closeErr error
}

// bind returns a child of the session context that also ends with ctx.
// Cancelling it aborts the running command without closing the target.
func (s *chromedpSession) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(s.ctx)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (s *chromedpSession) Navigate(ctx context.Context, url string) error {
	runCtx, cancel := s.bind(ctx)
	defer cancel()

	loaded := make(chan struct{})
	var once sync.Once
	chromedp.ListenTarget(runCtx, func(ev interface{}) {
		if _, ok := ev.(*page.EventDomContentEventFired); ok {
			once.Do(func() { close(loaded) })
		}
	})

	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, errorText, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		if errorText != "" {
			return fmt.Errorf("page load error %s", errorText)
		}
		return nil
	}))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}

	select {
	case <-loaded:
		return nil
	case <-runCtx.Done():
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return errors.New("browser connection lost")
	}
}

func (s *chromedpSession) Value(ctx context.Context, selector string) (string, error) {
	runCtx, cancel := s.bind(ctx)
	defer cancel()

	var value *string
	err := chromedp.Run(runCtx, chromedp.Evaluate(valueScript(selector), &value))
	switch {
	case err == nil:
		if value == nil {
			return "", nil
		}
		return *value, nil
	case ctx.Err() != nil:
		return "", ctx.Err()
	case s.lost():
		return "", fmt.Errorf("browser connection lost: %w", err)
	}
	return "", NewPollError(err)
}

// lost reports whether the browser behind the session is gone.
func (s *chromedpSession) lost() bool {
	if s.ctx.Err() != nil {
		return true
	}
	c := chromedp.FromContext(s.ctx)
	if c == nil || c.Browser == nil {
		return true
	}
	select {
	case <-c.Browser.LostConnection:
		return true
	default:
		return false
	}
}

func (s *chromedpSession) Close() error {
	s.once.Do(func() {
		closeCtx, cancel := context.WithTimeout(s.ctx, closeTimeout)
		defer cancel()
		// closes the remote browser session or stops the local process
		if err := chromedp.Cancel(closeCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.closeErr = err
		}
		s.cancel()
	})
	return s.closeErr
}
