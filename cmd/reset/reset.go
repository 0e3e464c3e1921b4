package reset

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/seqtools/runsync/cmd/util"
	"github.com/seqtools/runsync/pkg/config"
	"github.com/seqtools/runsync/pkg/errors"
	"github.com/seqtools/runsync/pkg/state"
)

// New creates a new `reset` command.
func New() *cobra.Command {
	var statePath string
	cobraCmd := &cobra.Command{
		Use:   "reset RUN_NAME",
		Short: "Clear a run's sync record so it's synced again",
		Long: `Clear the persisted record for a run back to pending. The next poll cycle
re-evaluates the run from scratch, including runs that already synced or
failed verification. Any data at the destination from a previous attempt is
overwritten by the new transfer.`,
		Args: cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			if err := resetRun(statePath, args[0]); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cobraCmd.Flags().StringVar(&statePath, "state", "",
		"Path to the state database (default ~/.runsync/state.db)")
	return cobraCmd
}

func resetRun(statePath, name string) error {
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

	if err := store.Reset(name); err != nil {
		return errors.WithContext(err, "reset run")
	}

	fmt.Printf("Run %q will be re-evaluated on the next poll cycle.\n", name)
	return nil
}
