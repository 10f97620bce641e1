package llm

import (
	"strings"

	scouterrors "scout/internal/errors"
)

// Error patterns that make the whole request hopeless: switching model will
// not help, so the fallback chain stops immediately.
var fatalPatterns = []string{
	"invalid api key",
	"api key not valid",
	"api_key_invalid",
	"safety",
	"blocked",
	"content policy",
	"context length",
	"token limit",
	"maximum context",
}

// Auth failures are reported as-is without walking the chain: every model
// behind the same credential will fail identically.
var authPatterns = []string{
	"401",
	"403",
	"unauthorized",
	"forbidden",
	"api key",
	"authentication",
}

// IsFatalModelError reports whether err makes fallback pointless.
func IsFatalModelError(err error) bool {
	if err == nil {
		return false
	}
	lowerErr := strings.ToLower(err.Error())
	for _, pattern := range fatalPatterns {
		if strings.Contains(lowerErr, pattern) {
			return true
		}
	}
	return false
}

// IsAuthError reports whether err is an authentication or authorization
// failure.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	if code := scouterrors.StatusCode(err); code == 401 || code == 403 {
		return true
	}
	lowerErr := strings.ToLower(err.Error())
	for _, pattern := range authPatterns {
		if strings.Contains(lowerErr, pattern) {
			return true
		}
	}
	return false
}

// ShouldFallback reports whether the chain should advance past err. Unknown
// errors fall back: trying the next model is cheap relative to failing the
// whole request.
func ShouldFallback(err error) bool {
	if err == nil {
		return false
	}
	return !IsFatalModelError(err) && !IsAuthError(err)
}

// ClassifyError wraps a raw provider error as transient or permanent so the
// generic retry layer can decide whether another attempt is worthwhile.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	lowerErr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(lowerErr, "429"),
		strings.Contains(lowerErr, "rate limit"),
		strings.Contains(lowerErr, "too many requests"):
		return &scouterrors.TransientError{Err: err, StatusCode: 429}
	case strings.Contains(lowerErr, "500"),
		strings.Contains(lowerErr, "502"),
		strings.Contains(lowerErr, "503"),
		strings.Contains(lowerErr, "504"),
		strings.Contains(lowerErr, "internal server error"),
		strings.Contains(lowerErr, "bad gateway"),
		strings.Contains(lowerErr, "overloaded"):
		return scouterrors.NewTransientError(err, "")
	case strings.Contains(lowerErr, "timeout"),
		strings.Contains(lowerErr, "deadline exceeded"),
		strings.Contains(lowerErr, "connection reset"),
		strings.Contains(lowerErr, "connection refused"),
		strings.Contains(lowerErr, "broken pipe"):
		return scouterrors.NewTransientError(err, "")
	case strings.Contains(lowerErr, "401"),
		strings.Contains(lowerErr, "403"),
		strings.Contains(lowerErr, "404"),
		strings.Contains(lowerErr, "400"),
		strings.Contains(lowerErr, "unauthorized"),
		strings.Contains(lowerErr, "forbidden"),
		strings.Contains(lowerErr, "invalid"):
		return scouterrors.NewPermanentError(err, "")
	}

	return err
}
