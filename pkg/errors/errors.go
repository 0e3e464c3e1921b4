package errors

import (
	goErrors "errors"
	"fmt"
)

// New returns an error with the given message.
func New(msg string) error {
	return goErrors.New(msg)
}

// ContextError annotates an error with what the code was doing when the
// error occurred.
type ContextError struct {
	Context string
	Err     error
}

func (err ContextError) Error() string {
	return fmt.Sprintf("%s: %s", err.Context, err.Err)
}

// Unwrap returns the wrapped error.
func (err ContextError) Unwrap() error {
	return err.Err
}

// WithContext wraps `err` with a message describing the operation that
// failed.
func WithContext(err error, context string) error {
	return ContextError{Context: context, Err: err}
}

// RootCause strips all context annotations from `err` and returns the
// underlying error.
func RootCause(err error) error {
	for {
		ctxErr, ok := err.(ContextError)
		if !ok {
			return err
		}
		err = ctxErr.Err
	}
}
