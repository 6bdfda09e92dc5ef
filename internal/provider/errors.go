package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorKind classifies a provider failure
type ErrorKind string

const (
	KindConnectivity ErrorKind = "connectivity"
	KindAuth         ErrorKind = "auth"
	KindRateLimit    ErrorKind = "rate_limit"
	KindOther        ErrorKind = "other"
)

// ProviderError is a failure reported by, or while reaching, an LLM backend
type ProviderError struct {
	Provider   string
	Model      string
	Kind       ErrorKind
	StatusCode int // 0 when no HTTP response was received
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s (%s): %s error (status %d): %v", e.Provider, e.Model, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s (%s): %s error: %v", e.Provider, e.Model, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Fallbackable reports whether the next provider in a chain should be tried
func (e *ProviderError) Fallbackable() bool {
	switch e.Kind {
	case KindConnectivity, KindAuth, KindRateLimit:
		return true
	}
	return false
}

// IsFallbackable reports whether err is a ProviderError that permits fallback
func IsFallbackable(err error) bool {
	var pErr *ProviderError
	return errors.As(err, &pErr) && pErr.Fallbackable()
}

// KindForStatus maps an HTTP status code to an error kind
func KindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusRequestTimeout || status >= http.StatusInternalServerError:
		return KindConnectivity
	}
	return KindOther
}

// connectivity markers seen in transport errors that do not implement net.Error
var connectivityPatterns = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporary failure",
	"service unavailable",
	"bad gateway",
	"gateway timeout",
	"i/o timeout",
	"no such host",
	"network is unreachable",
	"eof",
}

// KindForTransport classifies an error that occurred before any HTTP status
// was received. Context cancellation is never treated as connectivity.
func KindForTransport(err error) ErrorKind {
	if err == nil || errors.Is(err, context.Canceled) {
		return KindOther
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindConnectivity
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindConnectivity
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "too many requests") || strings.Contains(msg, "rate limit") {
		return KindRateLimit
	}
	if strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key") {
		return KindAuth
	}
	for _, pattern := range connectivityPatterns {
		if strings.Contains(msg, pattern) {
			return KindConnectivity
		}
	}
	return KindOther
}

// ChainError is returned when every provider in a chain failed
type ChainError struct {
	Providers []string
	Errs      []error
}

func (e *ChainError) Error() string {
	parts := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		parts[i] = fmt.Sprintf("%s: %v", e.Providers[i], err)
	}
	return fmt.Sprintf("all providers failed [%s]: %s", strings.Join(e.Providers, ", "), strings.Join(parts, "; "))
}

func (e *ChainError) Unwrap() []error {
	return e.Errs
}
