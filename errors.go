package turnstileproxy

import (
	"errors"
	"fmt"
)

// ConfigError is returned when the process configuration is unusable.
// It is a startup error and is never reported per request.
type ConfigError struct {
	Key     string
	Message string
}

func NewConfigError(key, message string) *ConfigError {
	return &ConfigError{
		Key:     key,
		Message: message,
	}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Key, e.Message)
}

// AcquireError is returned when a browser could not be connected or launched.
type AcquireError struct {
	Mode  Mode
	Cause error
}

func NewAcquireError(mode Mode, cause error) *AcquireError {
	return &AcquireError{
		Mode:  mode,
		Cause: cause,
	}
}

func (e *AcquireError) Error() string {
	return fmt.Sprintf("browser acquisition failed (%s): %v", e.Mode, e.Cause)
}

func (e *AcquireError) Unwrap() error {
	return e.Cause
}

// NavigationError is returned when the page never reached DOMContentLoaded.
type NavigationError struct {
	URL   string
	Cause error
}

func NewNavigationError(url string, cause error) *NavigationError {
	return &NavigationError{
		URL:   url,
		Cause: cause,
	}
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation to %s failed: %v", e.URL, e.Cause)
}

func (e *NavigationError) Unwrap() error {
	return e.Cause
}

// PollError marks a fault while reading the token element that is expected
// while the page is still settling. The retrieval loop swallows it.
type PollError struct {
	Cause error
}

func NewPollError(cause error) *PollError {
	return &PollError{
		Cause: cause,
	}
}

func (e *PollError) Error() string {
	return fmt.Sprintf("poll error: %v", e.Cause)
}

func (e *PollError) Unwrap() error {
	return e.Cause
}

// IsTransient reports whether err is a PollError.
func IsTransient(err error) bool {
	var pe *PollError
	return errors.As(err, &pe)
}
