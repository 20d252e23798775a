package turnstileproxy

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"net/http"
	"net/url"
	"time"
)

var timeout = time.Second * 15

// requestError is reported to the client verbatim with status 400.
type requestError string

func (e requestError) Error() string {
	return string(e)
}

const (
	errMissingURL     requestError = "Missing url parameter"
	errInvalidCookies requestError = "Invalid cookies parameter"
)

type errorBody struct {
	Error string `json:"error"`
}

type statusBody struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// solveRequest builds a Request from the /solve query parameters. The url
// value is decoded once more after query parsing so that doubly escaped
// targets reach the browser in plain form.
func solveRequest(query func(key string) string) (Request, error) {
	target := query("url")
	if target == "" {
		return Request{}, errMissingURL
	}
	if unescaped, err := url.PathUnescape(target); err == nil {
		target = unescaped
	}

	cookies, err := ParseCookies(query("cookies"))
	if err != nil {
		return Request{}, errInvalidCookies
	}
	return Request{
		URL:       target,
		UserAgent: query("user_agent"),
		Cookies:   cookies,
	}, nil
}

// writeTimeout leaves room for the slowest retrieval the config allows.
func writeTimeout(cfg Config) time.Duration {
	return cfg.NavTimeout + cfg.Timeout + timeout
}

// Serve runs the HTTP frontend selected by cfg.Engine until ctx is done.
func Serve(ctx context.Context, cfg Config, solver Retriever, logger zerolog.Logger) error {
	if cfg.Engine == EngineFiber {
		return startFiberFrontEnd(ctx, cfg, solver, logger)
	}
	return startFrontEnd(ctx, cfg, solver, logger)
}

// NewRouter returns the gorilla/mux handler for /solve, /health and /ready.
func NewRouter(solver Retriever, cfg Config, logger zerolog.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(accessLog(logger))
	ready := newReadiness(cfg, readinessTTL)

	r.HandleFunc("/solve", func(writer http.ResponseWriter, request *http.Request) {
		query := request.URL.Query()
		req, err := solveRequest(query.Get)
		if err != nil {
			writeJSON(writer, http.StatusBadRequest, errorBody{Error: err.Error()}, logger)
			return
		}
		ctx, cancel := context.WithTimeout(request.Context(), writeTimeout(cfg))
		defer cancel()
		writeJSON(writer, http.StatusOK, solver.Solve(ctx, req), logger)
	}).Methods(http.MethodGet)

	r.HandleFunc("/health", func(writer http.ResponseWriter, request *http.Request) {
		writeJSON(writer, http.StatusOK, statusBody{Status: "ok"}, logger)
	}).Methods(http.MethodGet)

	r.HandleFunc("/ready", func(writer http.ResponseWriter, request *http.Request) {
		ctx, cancel := context.WithTimeout(request.Context(), timeout)
		defer cancel()
		if err := ready.Check(ctx); err != nil {
			writeJSON(writer, http.StatusServiceUnavailable, statusBody{Status: "unavailable", Error: err.Error()}, logger)
			return
		}
		writeJSON(writer, http.StatusOK, statusBody{Status: "ok"}, logger)
	}).Methods(http.MethodGet)

	return r
}

func accessLog(logger zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			start := time.Now()
			next.ServeHTTP(writer, request)
			logger.Debug().
				Str("method", request.Method).
				Str("path", request.URL.Path).
				Dur("took", time.Since(start)).
				Msg("request served")
		})
	}
}

func writeJSON(writer http.ResponseWriter, status int, body interface{}, logger zerolog.Logger) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(body); err != nil {
		logger.Error().Err(err).Msg("error writing response")
	}
}

// startFrontEnd serves the mux router until ctx is done, then shuts down
// gracefully.
func startFrontEnd(ctx context.Context, cfg Config, solver Retriever, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		WriteTimeout: writeTimeout(cfg),
		ReadTimeout:  timeout,
		IdleTimeout:  time.Second * 60,
		Handler:      NewRouter(solver, cfg, logger),
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Str("engine", EngineMux).Msg("frontend listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	return stopFrontEnd(srv, logger)
}

func stopFrontEnd(srv *http.Server, logger zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	logger.Info().Msg("shutting down frontend")
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("error shutting down frontend")
		return err
	}
	return nil
}
