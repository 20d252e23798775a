package turnstileproxy

import (
	"context"
	"errors"
	"fmt"
	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog"
	"sync"
	"time"
)

// playwrightAcquirer connects to a remote Playwright server. Every session
// runs its own driver so nothing is shared between requests.
type playwrightAcquirer struct {
	endpoint string
	log      zerolog.Logger
}

func (a *playwrightAcquirer) Acquire(ctx context.Context, id Identity) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewAcquireError(ModePlaywright, err)
	}

	pw, err := playwright.Run(&playwright.RunOptions{SkipInstallBrowsers: true})
	if err != nil {
		return nil, NewAcquireError(ModePlaywright, fmt.Errorf("could not start playwright: %w", err))
	}
	s := &playwrightSession{pw: pw}

	// playwright calls take no context; closing the browser unblocks them
	s.mu.Lock()
	s.stop = context.AfterFunc(ctx, func() { _ = s.Close() })
	s.mu.Unlock()

	fail := func(err error) (Session, error) {
		_ = s.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, NewAcquireError(ModePlaywright, err)
	}

	a.log.Debug().Msg("connecting to playwright endpoint")
	browser, err := pw.Chromium.Connect(a.endpoint)
	if err != nil {
		return fail(fmt.Errorf("could not connect: %w", err))
	}
	s.mu.Lock()
	s.browser = browser
	s.mu.Unlock()

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(id.UserAgent),
		Viewport: &playwright.Size{
			Width:  int(id.Viewport.Width),
			Height: int(id.Viewport.Height),
		},
	})
	if err != nil {
		return fail(fmt.Errorf("could not create context: %w", err))
	}
	if cookies := playwrightCookies(id); len(cookies) > 0 {
		if err := bctx.AddCookies(cookies); err != nil {
			return fail(fmt.Errorf("could not set cookies: %w", err))
		}
	}

	s.page, err = bctx.NewPage()
	if err != nil {
		return fail(fmt.Errorf("could not create page: %w", err))
	}
	return s, nil
}

// playwrightCookies scopes each cookie either by URL or by Domain and Path,
// playwright rejects both at once.
func playwrightCookies(id Identity) []playwright.OptionalCookie {
	if len(id.Cookies) == 0 {
		return nil
	}
	cookies := make([]playwright.OptionalCookie, 0, len(id.Cookies))
	for _, c := range id.Cookies {
		cookie := playwright.OptionalCookie{Name: c.Name, Value: c.Value}
		if c.Domain != "" {
			path := c.Path
			if path == "" {
				path = "/"
			}
			cookie.Domain = playwright.String(c.Domain)
			cookie.Path = playwright.String(path)
		} else {
			cookie.URL = playwright.String(id.TargetURL)
		}
		cookies = append(cookies, cookie)
	}
	return cookies
}

type playwrightSession struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page
	stop    func() bool

	mu       sync.Mutex // guards browser and stop against an early Close
	once     sync.Once
	closeErr error
}

func (s *playwrightSession) Navigate(ctx context.Context, url string) error {
	opts := playwright.PageGotoOptions{WaitUntil: playwright.WaitUntilStateDomcontentloaded}
	if deadline, ok := ctx.Deadline(); ok {
		ms := time.Until(deadline).Milliseconds()
		if ms <= 0 {
			return context.DeadlineExceeded
		}
		opts.Timeout = playwright.Float(float64(ms))
	}

	if _, err := s.page.Goto(url, opts); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

func (s *playwrightSession) Value(ctx context.Context, selector string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// Evaluate takes no context; closing the session is the only way to
	// abandon an evaluation that never answers
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	v, err := s.page.Evaluate(valueScript(selector))
	stop()
	switch {
	case err == nil:
		str, _ := v.(string)
		return str, nil
	case ctx.Err() != nil:
		return "", ctx.Err()
	case !s.connected():
		return "", fmt.Errorf("browser connection lost: %w", err)
	}
	return "", NewPollError(err)
}

func (s *playwrightSession) connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.browser != nil && s.browser.IsConnected()
}

func (s *playwrightSession) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		browser, stop := s.browser, s.stop
		s.mu.Unlock()
		if stop != nil {
			stop()
		}

		var errs []error
		if browser != nil {
			errs = append(errs, browser.Close())
		}
		errs = append(errs, s.pw.Stop())
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
