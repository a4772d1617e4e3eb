package scheduler

import (
	"errors"
	"fmt"
)

var (
	ErrQueueFull      = errors.New("request queue is full")
	ErrStopped        = errors.New("scheduler stopped")
	ErrTimeout        = errors.New("request timed out")
	ErrInvalidOptions = errors.New("invalid request options")
	ErrUnexpectedType = errors.New("unexpected result type")
)

// RequestError is the terminal error of a request after its retry budget
// is spent or a non-retryable failure occurred.
type RequestError struct {
	ID       string
	Attempts int
	Err      error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request %s failed after %d attempt(s): %v", e.ID, e.Attempts, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable: the scheduler fails the request
// immediately without consuming retry budget.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or anything it wraps) was marked with
// Permanent or is an options error.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p) || errors.Is(err, ErrInvalidOptions)
}
