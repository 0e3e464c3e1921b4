package config

import (
	"os"
	"time"

	"github.com/ghodss/yaml"
	"github.com/spf13/afero"

	"github.com/seqtools/runsync/pkg/errors"
)

// SupportedConfigVersion is the config file version understood by this
// binary. Files that don't specify a version default to it.
const SupportedConfigVersion = "v1"

// parseConfigErrTemplate is a template for when we fail to parse a yaml
// configuration file. This can happen for a multitude of reasons, including
// extraneous fields and incorrect field types. However, the yaml library
// constructs errors in a way that loses context, and so we can only pass the
// error message on.
const parseConfigErrTemplate = "Configuration file could not be parsed. " +
	"Please review %q.\n" +
	"Common pitfalls include:\n" +
	" - Using the wrong types for fields\n" +
	" - Having extra fields inside the config file\n\n" +
	"For reference, here is the error from the parser:\n" +
	"%s"

// File mirrors the optional YAML configuration file. Any value set
// explicitly on the command line overrides the file.
type File struct {
	Version           string `json:"version,omitempty"`
	Source            string `json:"source,omitempty"`
	Destination       string `json:"destination,omitempty"`
	RunPattern        string `json:"runPattern,omitempty"`
	CompletionPattern string `json:"completionPattern,omitempty"`
	Verify            *bool  `json:"verify,omitempty"`
	Interval          string `json:"interval,omitempty"`
	Settle            string `json:"settle,omitempty"`
	State             string `json:"state,omitempty"`
}

// Parse reads the configuration file at path.
func Parse(path string) (File, error) {
	configBytes, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return File{}, errors.FileNotFound{Path: path}
		}
		return File{}, errors.WithContext(err, "read file")
	}

	var file File
	if err := yaml.Unmarshal(configBytes, &file); err != nil {
		return File{}, errors.NewFriendlyError(parseConfigErrTemplate, path, err)
	}

	if file.Version == "" {
		file.Version = SupportedConfigVersion
	}
	if file.Version != SupportedConfigVersion {
		return File{}, errors.NewFriendlyError(
			"The configuration file %q is incompatible with this version of runsync.\n"+
				"Expected version %q, but got %q.",
			path, SupportedConfigVersion, file.Version)
	}

	// Do a strict unmarshal to check for any extra fields. We do a
	// non-strict unmarshal first so that we can catch version errors before
	// erroring on extra fields.
	if err := yaml.UnmarshalStrict(configBytes, &file, yaml.DisallowUnknownFields); err != nil {
		return File{}, errors.NewFriendlyError(parseConfigErrTemplate, path, err)
	}
	return file, nil
}

// ApplyFile fills in any option that wasn't set explicitly on the command
// line with the value from the config file. `flagSet` reports whether the
// flag with the given name was set explicitly.
func ApplyFile(opts *Options, file File, flagSet func(name string) bool) error {
	if !flagSet("source") && file.Source != "" {
		opts.Source = file.Source
	}
	if !flagSet("destination") && file.Destination != "" {
		opts.Destination = file.Destination
	}
	if !flagSet("run-pattern") && file.RunPattern != "" {
		opts.RunPattern = file.RunPattern
	}
	if !flagSet("completion-pattern") && file.CompletionPattern != "" {
		opts.CompletionPattern = file.CompletionPattern
	}
	if !flagSet("state") && file.State != "" {
		opts.StatePath = file.State
	}
	if !flagSet("verify") && file.Verify != nil {
		opts.Verify = *file.Verify
	}

	if !flagSet("interval") && file.Interval != "" {
		interval, err := time.ParseDuration(file.Interval)
		if err != nil {
			return errors.NewFriendlyError(
				"Invalid interval %q in the config file:\n%s", file.Interval, err)
		}
		opts.Interval = interval
	}
	if !flagSet("settle") && file.Settle != "" {
		settle, err := time.ParseDuration(file.Settle)
		if err != nil {
			return errors.NewFriendlyError(
				"Invalid settle duration %q in the config file:\n%s", file.Settle, err)
		}
		opts.Settle = settle
	}
	return nil
}
