package status

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/seqtools/runsync/cmd/util"
	"github.com/seqtools/runsync/pkg/config"
	"github.com/seqtools/runsync/pkg/errors"
	"github.com/seqtools/runsync/pkg/state"
)

// New creates a new `status` command.
func New() *cobra.Command {
	var statePath string
	cobraCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the sync status of every known run",
		Long: "Print the persisted sync record for every run that has ever been\n" +
			"observed, including runs that failed verification.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := printStatus(statePath); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cobraCmd.Flags().StringVar(&statePath, "state", "",
		"Path to the state database (default ~/.runsync/state.db)")
	return cobraCmd
}

func printStatus(statePath string) error {
	var err error
	if statePath == "" {
		statePath, err = config.DefaultStatePath()
		if err != nil {
			return err
		}
	}

	store, err := state.Open(statePath)
	if err != nil {
		return errors.WithContext(err, "open state database")
	}
	defer store.Close()

	records, err := store.Records()
	if err != nil {
		return errors.WithContext(err, "read records")
	}
	if len(records) == 0 {
		fmt.Println("No runs have been observed yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTATUS\tUPDATED\tREASON")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			rec.Name, rec.Status, rec.UpdatedAt.Format("2006-01-02 15:04:05"), rec.Reason)
	}
	return w.Flush()
}
