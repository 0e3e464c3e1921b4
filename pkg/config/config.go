package config

import (
	"os"
	"path/filepath"
	"regexp"
	"time"

	homedir "github.com/mitchellh/go-homedir"

	"github.com/seqtools/runsync/pkg/errors"
)

// Options are the raw, unvalidated settings gathered from the command line
// and the optional config file.
type Options struct {
	Source            string
	Destination       string
	RunPattern        string
	CompletionPattern string
	Verify            bool
	Interval          time.Duration
	Settle            time.Duration
	StatePath         string
}

// Config is the validated daemon configuration.
type Config struct {
	Source            string
	Destination       string
	RunPattern        *regexp.Regexp
	CompletionPattern *regexp.Regexp
	Verify            bool
	Interval          time.Duration
	Settle            time.Duration
	StatePath         string
}

// DefaultStatePath returns the per-user location of the state database.
func DefaultStatePath() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", errors.WithContext(err, "get home directory")
	}
	return filepath.Join(home, ".runsync", "state.db"), nil
}

// Validate checks the options and compiles them into a runnable Config.
// Configuration faults are fatal at startup: the daemon refuses to start
// with a bad regex or an unreachable directory rather than failing every
// poll cycle.
func (opts Options) Validate() (Config, error) {
	if opts.Source == "" {
		return Config{}, errors.NewFriendlyError(
			"A source directory is required. Set it with --source.")
	}
	if opts.Destination == "" {
		return Config{}, errors.NewFriendlyError(
			"A destination directory is required. Set it with --destination.")
	}

	runPattern, err := regexp.Compile(opts.RunPattern)
	if err != nil {
		return Config{}, errors.NewFriendlyError(
			"Invalid run name pattern %q:\n%s", opts.RunPattern, err)
	}

	completionPattern, err := regexp.Compile(opts.CompletionPattern)
	if err != nil {
		return Config{}, errors.NewFriendlyError(
			"Invalid completion signal pattern %q:\n%s", opts.CompletionPattern, err)
	}

	for _, dir := range []string{opts.Source, opts.Destination} {
		fi, err := fs.Stat(dir)
		if os.IsNotExist(err) {
			return Config{}, errors.NewFriendlyError(
				"The directory %q does not exist.", dir)
		}
		if err != nil {
			return Config{}, errors.WithContext(err, "stat directory")
		}
		if !fi.IsDir() {
			return Config{}, errors.NewFriendlyError(
				"%q is not a directory.", dir)
		}
	}

	if opts.Interval <= 0 {
		return Config{}, errors.NewFriendlyError(
			"The poll interval must be positive, got %s.", opts.Interval)
	}
	if opts.Settle < 0 {
		return Config{}, errors.NewFriendlyError(
			"The settle duration can't be negative, got %s.", opts.Settle)
	}

	statePath := opts.StatePath
	if statePath == "" {
		statePath, err = DefaultStatePath()
		if err != nil {
			return Config{}, err
		}
	}

	return Config{
		Source:            opts.Source,
		Destination:       opts.Destination,
		RunPattern:        runPattern,
		CompletionPattern: completionPattern,
		Verify:            opts.Verify,
		Interval:          opts.Interval,
		Settle:            opts.Settle,
		StatePath:         statePath,
	}, nil
}
