// Package turnstileproxy drives a Chromium session per request, waits for the
// Cloudflare Turnstile response token to be injected into the page and
// returns it together with timing and status metadata.
//
// Basic usage:
//
//	cfg := turnstileproxy.DefaultConfig()
//	solver, err := turnstileproxy.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result := solver.Solve(ctx, turnstileproxy.Request{URL: "https://example.com/login"})
//
// The browser is obtained according to Config.Mode: a remote DevTools
// endpoint, a remote Playwright endpoint, or a local headless launch.
package turnstileproxy

import (
	"math"
	"time"
)

// Version is the current version of the module.
const Version = "0.1.0"

// Status is the terminal state of a single retrieval.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusError   Status = "error"
)

// ReasonNotDetected is reported when the deadline passes without a token.
const ReasonNotDetected = "Turnstile not detected"

// Request describes a single retrieval.
type Request struct {
	URL string
	// UserAgent overrides Config.UserAgent for this session when set.
	UserAgent string
	// Cookies are installed for URL before navigation.
	Cookies []Cookie
}

// Result is returned for every retrieval, whatever the outcome.
// Absent fields encode as JSON null.
type Result struct {
	Token   *string `json:"turnstile_value"`
	Elapsed float64 `json:"elapsed_time_seconds"`
	Status  Status  `json:"status"`
	Reason  *string `json:"reason"`
}

// TokenValue returns the token or an empty string.
func (r Result) TokenValue() string {
	if r.Token == nil {
		return ""
	}
	return *r.Token
}

// ReasonValue returns the reason or an empty string.
func (r Result) ReasonValue() string {
	if r.Reason == nil {
		return ""
	}
	return *r.Reason
}

func successResult(start time.Time, token string) Result {
	return Result{
		Token:   &token,
		Elapsed: elapsedSince(start),
		Status:  StatusSuccess,
	}
}

func failureResult(start time.Time, reason string) Result {
	return Result{
		Elapsed: elapsedSince(start),
		Status:  StatusFailure,
		Reason:  &reason,
	}
}

func errorResult(start time.Time, err error) Result {
	reason := err.Error()
	return Result{
		Elapsed: elapsedSince(start),
		Status:  StatusError,
		Reason:  &reason,
	}
}

// elapsedSince rounds to milliseconds
func elapsedSince(start time.Time) float64 {
	return math.Round(time.Since(start).Seconds()*1000) / 1000
}
