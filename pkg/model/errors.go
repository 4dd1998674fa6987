package model

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrTransient marks a collaborator failure that may succeed on retry
	// (timeout, rate limit, empty or garbled upstream response).
	ErrTransient = goerr.New("transient collaborator failure")

	// ErrFatal marks a collaborator failure that must not be retried
	// (authentication failure, unsupported response shape).
	ErrFatal = goerr.New("fatal collaborator failure")

	ErrNotFound          = goerr.New("not found")
	ErrAlreadyExists     = goerr.New("already exists")
	ErrInvalidTransition = goerr.New("invalid phase transition")
	ErrVersionNotFound   = goerr.New("biography version not found")
	ErrAlreadyEvaluated  = goerr.New("biography version already evaluated")
	ErrInvalidConfig     = goerr.New("invalid configuration")
)

// Transient wraps err as a retryable collaborator failure.
func Transient(err error, msg string, opts ...goerr.Option) error {
	opts = append(opts, goerr.V("cause", errorString(err)))
	return goerr.Wrap(ErrTransient, msg, opts...)
}

// Fatal wraps err as a non-retryable collaborator failure.
func Fatal(err error, msg string, opts ...goerr.Option) error {
	opts = append(opts, goerr.V("cause", errorString(err)))
	return goerr.Wrap(ErrFatal, msg, opts...)
}

// IsTransient reports whether err should be retried. Context cancellation
// and deadline errors are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrTransient)
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
