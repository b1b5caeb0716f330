package client

import "github.com/relayloop/campaignd/errors"

// retryableError marks a failure as transient. Server-side errors and
// network faults are retryable; rejected requests are not.
type retryableError struct {
	cause error
}

func (e *retryableError) Error() string { return e.cause.Error() }

func (e *retryableError) Unwrap() error { return e.cause }

// Retryable marks err as worth another attempt. Returns nil for nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{cause: err}
}

// IsRetryable reports whether err carries the retryable marker anywhere in
// its chain.
func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
