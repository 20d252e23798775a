package turnstileproxy

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
	"time"
	"unicode/utf8"
)

// Retriever is what the HTTP frontends and the CLI depend on.
type Retriever interface {
	Solve(ctx context.Context, req Request) Result
}

// Solver runs token retrievals. It is safe for concurrent use; every call to
// Solve owns its own browser session.
type Solver struct {
	cfg      Config
	acquirer Acquirer
	sessions *semaphore.Weighted
	log      zerolog.Logger
}

// Option configures a Solver.
type Option func(*Solver)

// WithLogger sets the logger, the global zerolog logger is used otherwise.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Solver) {
		s.log = logger
	}
}

// WithAcquirer replaces the browser acquisition strategy selected by
// Config.Mode.
func WithAcquirer(a Acquirer) Option {
	return func(s *Solver) {
		s.acquirer = a
	}
}

// New validates cfg and returns a Solver for it.
func New(cfg Config, opts ...Option) (*Solver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Solver{
		cfg: cfg,
		log: log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.acquirer == nil {
		a, err := NewAcquirer(cfg, s.log)
		if err != nil {
			return nil, err
		}
		s.acquirer = a
	}
	if cfg.MaxSessions > 0 {
		s.sessions = semaphore.NewWeighted(int64(cfg.MaxSessions))
	}
	return s, nil
}

// Solve acquires a browser, loads req.URL and polls the token element until
// a token appears or the deadline passes. It never returns an error: every
// outcome is encoded in the Result.
func (s *Solver) Solve(ctx context.Context, req Request) (result Result) {
	start := time.Now()
	logger := s.log.With().
		Str("request_id", uuid.NewString()).
		Str("url", req.URL).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("retrieval panicked")
			result = errorResult(start, fmt.Errorf("internal error: %v", r))
		}

		ev := logger.Info()
		if result.Status == StatusError {
			ev = logger.Warn().Str("reason", result.ReasonValue())
		}
		ev.Str("status", string(result.Status)).
			Float64("elapsed", result.Elapsed).
			Msg("retrieval finished")
	}()

	logger.Debug().Str("mode", string(s.cfg.Mode)).Msg("retrieval started")

	if s.sessions != nil {
		if err := s.sessions.Acquire(ctx, 1); err != nil {
			return errorResult(start, fmt.Errorf("waiting for a browser session: %w", err))
		}
		defer s.sessions.Release(1)
	}

	session, err := s.acquirer.Acquire(ctx, s.cfg.identity(req))
	if err != nil {
		var ae *AcquireError
		if !errors.As(err, &ae) {
			err = NewAcquireError(s.cfg.Mode, err)
		}
		return errorResult(start, err)
	}
	// runs after the result is built, so teardown is not part of Elapsed
	defer func() {
		if err := session.Close(); err != nil {
			logger.Debug().Err(err).Msg("closing browser session")
		}
	}()

	if err := s.navigate(ctx, session, req.URL); err != nil {
		return errorResult(start, err)
	}

	token, err := s.waitForToken(ctx, session, logger)
	if err != nil {
		return errorResult(start, err)
	}
	if token == "" {
		return failureResult(start, ReasonNotDetected)
	}
	return successResult(start, token)
}

func (s *Solver) navigate(ctx context.Context, session Session, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	defer cancel()

	if err := session.Navigate(navCtx, url); err != nil {
		return NewNavigationError(url, err)
	}
	return nil
}

// waitForToken polls until a value longer than MinTokenLength shows up.
// It returns "" with a nil error when the deadline passes first, including
// while an evaluation is still in flight.
func (s *Solver) waitForToken(ctx context.Context, session Session, logger zerolog.Logger) (string, error) {
	deadline := time.Now().Add(s.cfg.Timeout)
	pollCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	for poll := 1; time.Now().Before(deadline); poll++ {
		value, err := session.Value(pollCtx, s.cfg.TokenSelector)
		switch {
		case err == nil && utf8.RuneCountInString(value) > s.cfg.MinTokenLength:
			logger.Debug().Int("poll", poll).Msg("token detected")
			return value, nil
		case err == nil:
		case ctx.Err() != nil:
			return "", ctx.Err()
		case pollCtx.Err() != nil:
			logger.Debug().Err(err).Int("poll", poll).Msg("deadline reached during evaluation")
			return "", nil
		case IsTransient(err):
			logger.Debug().Err(err).Int("poll", poll).Msg("token not readable yet")
		default:
			return "", err
		}

		select {
		case <-pollCtx.Done():
			if err := ctx.Err(); err != nil {
				return "", err
			}
			return "", nil
		case <-time.After(s.cfg.PollInterval):
		}
	}
	return "", nil
}
