package pipeline

import (
	"context"
	"errors"
)

// ErrorClassifier is implemented by domain errors that declare a kind for
// run registry status mapping.
type ErrorClassifier interface {
	ErrorKind() string
}

// Error kinds stored in the run registry.
const (
	KindValidation    = "validation"
	KindConfiguration = "configuration"
	KindNumerical     = "numerical"
	KindCache         = "cache"
	KindCancelled     = "cancelled"
	KindInternal      = "internal"
)

// ErrorKind classifies err. Errors without a classifier are internal;
// context cancellation is reported as cancelled.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		if kind := classifier.ErrorKind(); kind != "" {
			return kind
		}
	}
	return KindInternal
}

// NeedsAttention reports whether a failure calls for operator action on the
// input or config rather than a retry.
func NeedsAttention(err error) bool {
	switch ErrorKind(err) {
	case KindValidation, KindConfiguration:
		return true
	}
	return false
}

// configError marks parameter problems found before any window work.
type configError struct{ err error }

func (e *configError) Error() string     { return e.err.Error() }
func (e *configError) Unwrap() error     { return e.err }
func (e *configError) ErrorKind() string { return KindConfiguration }
