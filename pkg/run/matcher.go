package run

import (
	"path/filepath"
	"regexp"

	"github.com/spf13/afero"

	"github.com/seqtools/runsync/pkg/errors"
)

// DefaultNamePattern matches sequencer-generated run directory names:
// date, time, device id, flow cell id, and run id.
const DefaultNamePattern = `[0-9]{8}_[0-9]{4}_[^_]+_[^_]+_[a-f0-9]{8}`

// Matcher selects the subdirectories of the source root that look like
// sequencing runs. Matching is purely name based; contents are never
// inspected.
type Matcher struct {
	pattern *regexp.Regexp
}

// NewMatcher creates a Matcher for the given run name pattern.
func NewMatcher(pattern *regexp.Regexp) Matcher {
	return Matcher{pattern: pattern}
}

// List returns the runs directly under sourceRoot whose names match the run
// name pattern, sorted by name. Files and directories with unexpected names
// are silently ignored.
func (m Matcher) List(sourceRoot, destinationRoot string) ([]Run, error) {
	// afero.ReadDir sorts entries by name, which keeps the processing order
	// stable across cycles.
	entries, err := afero.ReadDir(fs, sourceRoot)
	if err != nil {
		return nil, errors.WithContext(err, "list source root")
	}

	var runs []Run
	for _, entry := range entries {
		if !entry.IsDir() || !m.Matches(entry.Name()) {
			continue
		}
		runs = append(runs, Run{
			Name:            entry.Name(),
			SourcePath:      filepath.Join(sourceRoot, entry.Name()),
			DestinationPath: filepath.Join(destinationRoot, entry.Name()),
		})
	}
	return runs, nil
}

// Matches returns whether `name` is a run directory name. The whole name has
// to match the pattern, so runs can't hide inside otherwise-named
// directories.
func (m Matcher) Matches(name string) bool {
	match := m.pattern.FindString(name)
	return match == name && name != ""
}
