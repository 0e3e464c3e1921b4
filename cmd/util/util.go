package util

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/seqtools/runsync/pkg/errors"
)

// friendlyError is an error that can be printed to the user as-is, without
// the context chain that wraps it.
type friendlyError interface {
	FriendlyMessage() string
}

// HandleFatalError prints the given error and exits with a non-zero status.
func HandleFatalError(err error) {
	if friendly, ok := errors.RootCause(err).(friendlyError); ok {
		fmt.Fprintln(os.Stderr, friendly.FriendlyMessage())
	} else {
		log.WithError(err).Error("Fatal error")
	}
	os.Exit(1)
}

// HandlePanic recovers from panics in the main process so that we exit with
// an error message rather than a raw stack trace.
func HandlePanic() {
	if r := recover(); r != nil {
		log.WithField("panic", r).Error(
			"Unexpected runsync error. This is a bug -- please report it.")
		os.Exit(1)
	}
}
