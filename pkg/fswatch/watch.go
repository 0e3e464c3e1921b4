package fswatch

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/seqtools/runsync/pkg/errors"
)

// Watch watches the source root for filesystem activity. It sends on the
// returned channel whenever something under the root changes, coalescing
// bursts of events into a single pending notification.
//
// Events are only a hint that shortens the wait until the next scan: network
// filesystems drop them, and the watch isn't recursive, so every decision is
// still made by re-scanning the source root on the poll interval.
func Watch(sourceRoot string) (chan struct{}, func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, errors.WithContext(err, "create watcher")
	}

	if err := watcher.Add(sourceRoot); err != nil {
		// Close the watcher so that we release its file handles.
		if closeErr := watcher.Close(); closeErr != nil {
			log.WithError(closeErr).Warn("Failed to close file watcher")
		}
		return nil, nil, errors.WithContext(err, fmt.Sprintf("watch %q", sourceRoot))
	}

	stop := func() {
		if err := watcher.Close(); err != nil {
			log.WithError(err).Warn("Failed to close file watcher")
		}
	}
	return combineUpdates(watcher.Events), stop, nil
}

func combineUpdates(updates <-chan fsnotify.Event) chan struct{} {
	combined := make(chan struct{}, 1)
	go func() {
		for range updates {
			select {
			case combined <- struct{}{}:
			default:
			}
		}
	}()
	return combined
}
