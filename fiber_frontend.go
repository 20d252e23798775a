package turnstileproxy

import (
	"context"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"time"
)

// NewFiberApp serves the same routes as NewRouter on fiber.
func NewFiberApp(solver Retriever, cfg Config, logger zerolog.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		ReduceMemoryUsage:     true,
		DisableStartupMessage: true,
		ReadTimeout:           timeout,
		WriteTimeout:          writeTimeout(cfg),
		IdleTimeout:           time.Second * 60,
	})

	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		logger.Debug().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Dur("took", time.Since(start)).
			Msg("request served")
		return err
	})

	ready := newReadiness(cfg, readinessTTL)

	app.Get("/solve", func(c *fiber.Ctx) error {
		req, err := solveRequest(func(key string) string { return c.Query(key) })
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(errorBody{Error: err.Error()})
		}
		// fasthttp never reports a client hang-up; the request context is
		// only done on server shutdown, so the retrieval is bounded here
		ctx, cancel := requestContext(c, writeTimeout(cfg))
		defer cancel()
		return c.JSON(solver.Solve(ctx, req))
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(statusBody{Status: "ok"})
	})

	app.Get("/ready", func(c *fiber.Ctx) error {
		ctx, cancel := requestContext(c, timeout)
		defer cancel()
		if err := ready.Check(ctx); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(statusBody{Status: "unavailable", Error: err.Error()})
		}
		return c.JSON(statusBody{Status: "ok"})
	})

	return app
}

// requestContext derives a context from the user context that is cancelled
// after d or when the server shuts down.
func requestContext(c *fiber.Ctx, d time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(c.UserContext(), d)
	stop := context.AfterFunc(c.Context(), cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// startFiberFrontEnd is the fiber counterpart of startFrontEnd.
func startFiberFrontEnd(ctx context.Context, cfg Config, solver Retriever, logger zerolog.Logger) error {
	app := NewFiberApp(solver, cfg, logger)

	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Str("engine", EngineFiber).Msg("frontend listening")
		if err := app.Listen(cfg.ListenAddr); err != nil {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down frontend")
	if err := app.ShutdownWithTimeout(timeout); err != nil {
		logger.Error().Err(err).Msg("error shutting down frontend")
		return err
	}
	return nil
}
