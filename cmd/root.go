package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/seqtools/runsync/cmd/reset"
	"github.com/seqtools/runsync/cmd/status"
	"github.com/seqtools/runsync/cmd/util"
	versionCmd "github.com/seqtools/runsync/cmd/version"
	"github.com/seqtools/runsync/cmd/watch"
)

// verboseLogKey is the environment variable used to enable verbose logging.
// When it's set to `true`, Debug events are logged, rather than just Info and
// above.
const verboseLogKey = "RUNSYNC_LOG_VERBOSE"

// Execute runs the main CLI process.
func Execute() {
	if os.Getenv(verboseLogKey) == "true" {
		log.SetLevel(log.DebugLevel)
	}

	rootCmd := &cobra.Command{
		Use:          "runsync",
		Short:        "Sync completed sequencing runs to a destination directory",
		SilenceUsage: true,

		// The call to rootCmd.Execute prints the error, so we silence errors
		// here to avoid double printing.
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		reset.New(),
		status.New(),
		versionCmd.New(),
		watch.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		util.HandleFatalError(err)
	}
}
