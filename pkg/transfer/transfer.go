// Package transfer copies completed runs to the destination root. A transfer
// copies into a hidden staging directory and only renames it into place once
// every file has been written, so a half-finished attempt never looks like a
// synced run and can always be discarded and redone.
package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/seqtools/runsync/pkg/errors"
	"github.com/seqtools/runsync/pkg/run"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// Outcome is the result of a transfer attempt.
type Outcome struct {
	Status run.Status

	// Reason describes the failure for non-Synced outcomes.
	Reason string
}

// Engine copies runs into the destination root and optionally verifies each
// copy by comparing aggregate file sizes. It writes only to the destination
// filesystem, never to the source.
type Engine struct {
	// Verify enables the post-copy size comparison.
	Verify bool
}

// Transfer copies r's directory tree to r.DestinationPath. It returns an
// error only when interrupted by ctx; in that case no outcome should be
// recorded, so the run stays Transferring and is retried by the next
// process. All other failures are reported through the Outcome and leave the
// run retryable (TransferFailed) or terminal (VerificationFailed).
func (e Engine) Transfer(ctx context.Context, r run.Run) (Outcome, error) {
	staging := filepath.Join(filepath.Dir(r.DestinationPath), ".partial-"+r.Name)

	// Discard leftovers from an abandoned attempt. The finalized destination
	// can exist too, if a previous process crashed after the rename but
	// before it recorded the outcome.
	for _, stale := range []string{staging, r.DestinationPath} {
		if err := fs.RemoveAll(stale); err != nil {
			return failed(errors.WithContext(err, "discard stale destination")), nil
		}
	}

	if err := copyTree(ctx, r.SourcePath, staging); err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		return failed(errors.WithContext(err, "copy")), nil
	}

	if err := fs.Rename(staging, r.DestinationPath); err != nil {
		return failed(errors.WithContext(err, "finalize destination")), nil
	}

	if e.Verify {
		sourceSize, err := DirSize(r.SourcePath)
		if err != nil {
			return failed(errors.WithContext(err, "size source")), nil
		}
		destinationSize, err := DirSize(r.DestinationPath)
		if err != nil {
			return failed(errors.WithContext(err, "size destination")), nil
		}

		// A mismatch after a clean copy means the data is wrong, not that
		// the copy was unlucky. The destination is left in place for the
		// operator to inspect.
		if sourceSize != destinationSize {
			return Outcome{
				Status: run.StatusVerificationFailed,
				Reason: fmt.Sprintf("size mismatch: source %d bytes, destination %d bytes",
					sourceSize, destinationSize),
			}, nil
		}
	}

	return Outcome{Status: run.StatusSynced}, nil
}

func failed(err error) Outcome {
	return Outcome{Status: run.StatusTransferFailed, Reason: err.Error()}
}

// DirSize returns the total size in bytes of every regular file under path.
func DirSize(path string) (int64, error) {
	var total int64
	err := afero.Walk(fs, path, func(_ string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.Mode().IsRegular() {
			total += fi.Size()
		}
		return nil
	})
	return total, err
}

func copyTree(ctx context.Context, src, dst string) error {
	return afero.Walk(fs, src, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		relativePath, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, relativePath)

		if fi.IsDir() {
			return fs.MkdirAll(target, fi.Mode().Perm())
		}
		return copyFile(path, target, fi.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := fs.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	// Mode copies commonly fail on network mounts. The data made it, so this
	// isn't a transfer failure.
	if err := fs.Chmod(dst, mode.Perm()); err != nil {
		log.WithError(err).WithField("path", dst).Debug("Failed to copy file mode")
	}
	return nil
}
