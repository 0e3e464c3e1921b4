package errors

import (
	"fmt"
)

// FriendlyError is an error whose message is meant to be shown to the user
// directly, without any wrapping context.
type FriendlyError struct {
	Message string
}

func (err FriendlyError) Error() string {
	return err.Message
}

// FriendlyMessage returns the user-facing message.
func (err FriendlyError) FriendlyMessage() string {
	return err.Message
}

// NewFriendlyError creates a FriendlyError from the given format string.
func NewFriendlyError(format string, args ...interface{}) error {
	return FriendlyError{Message: fmt.Sprintf(format, args...)}
}

// FileNotFound represents when we were unable to access a file
// because the path didn't exist.
type FileNotFound struct {
	Path string
}

func (err FileNotFound) Error() string {
	return fmt.Sprintf("%q does not exist", err.Path)
}
