package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrRendererUnavailable is returned by fetchers that cannot render pages.
	ErrRendererUnavailable = errors.New("renderer unavailable")
	// ErrEngineStarted is returned when Run is called more than once.
	ErrEngineStarted = errors.New("engine already started")
)

// FetchError wraps a failure to obtain a page or asset. It is recorded against
// the URL and never stops the run.
type FetchError struct {
	URL   string
	Mode  FetchMode
	Cause error
}

// NewFetchError builds a FetchError.
func NewFetchError(rawURL string, mode FetchMode, cause error) *FetchError {
	return &FetchError{URL: rawURL, Mode: mode, Cause: cause}
}

func (e *FetchError) Error() string {
	if e.Mode == "" {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Cause)
	}
	return fmt.Sprintf("%s fetch %s: %v", e.Mode, e.URL, e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// ConfigError reports invalid or unsatisfiable run configuration. It aborts
// the run before any crawling starts.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}
