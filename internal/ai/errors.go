package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrAuthentication    = errors.New("authentication failed")
	ErrModelNotFound     = errors.New("model not found")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnsupportedOption = errors.New("unsupported request option")
	ErrTransport         = errors.New("transport failure")
	ErrEmptyResponse     = errors.New("empty response")
	ErrNoProvider        = errors.New("no ai provider configured")
)

// Error is a classified provider failure. errors.Is matches both the
// classification sentinel and the wrapped cause.
type Error struct {
	Provider   string
	Kind       error
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Err == nil {
		if e.StatusCode != 0 {
			return fmt.Sprintf("%s: %v (status %d)", e.Provider, e.Kind, e.StatusCode)
		}
		return fmt.Sprintf("%s: %v", e.Provider, e.Kind)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %v (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Classify wraps err with the taxonomy kind derived from the HTTP status
// code. A zero status means no response was received.
func Classify(provider string, status int, err error) error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return err
	}

	return &Error{Provider: provider, Kind: kindFor(status, err), StatusCode: status, Err: err}
}

func kindFor(status int, err error) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuthentication
	case status == http.StatusNotFound:
		return ErrModelNotFound
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status >= 400 && status < 500:
		if _, ok := RejectedOption(status, err.Error()); ok {
			return ErrUnsupportedOption
		}
		return ErrTransport
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrTransport
	default:
		return ErrTransport
	}
}

// IsConfigurationError reports whether err cannot be fixed by retrying and
// points at the provider configuration instead.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrAuthentication) || errors.Is(err, ErrModelNotFound) || errors.Is(err, ErrNoProvider)
}

// Hint returns a short user-facing suggestion for a classified error.
func Hint(err error) string {
	switch {
	case errors.Is(err, ErrNoProvider):
		return "set ai.provider in the configuration file"
	case errors.Is(err, ErrAuthentication):
		return "check ai.api-key-file or the provider API key environment variable"
	case errors.Is(err, ErrModelNotFound):
		return "check ai.model; the provider does not serve this model"
	case errors.Is(err, ErrRateLimited):
		return "the provider is rate limiting requests; try again later or lower matching.concurrency"
	case errors.Is(err, ErrTransport):
		return "check network connectivity and ai.base-url"
	default:
		return ""
	}
}

// RejectedOption detects a backend complaint about a request option it does
// not support. Only client errors qualify.
func RejectedOption(status int, message string) (Option, bool) {
	if status < 400 || status >= 500 {
		return "", false
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusTooManyRequests:
		return "", false
	}

	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "response_format"),
		strings.Contains(lower, "response format"),
		strings.Contains(lower, "json_object"),
		strings.Contains(lower, "response_mime_type"),
		strings.Contains(lower, "responsemimetype"):
		return OptionResponseFormat, true
	case strings.Contains(lower, "temperature"):
		return OptionTemperature, true
	default:
		return "", false
	}
}
