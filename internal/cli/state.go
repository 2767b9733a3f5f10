package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/reprowatch/internal/model"
)

// StateOptions holds flags for the state command.
type StateOptions struct {
	*RootOptions
	App       string
	StatePath string
}

// NewStateCommand creates the state command.
func NewStateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "state",
		Short: "List recorded versions",
		Long: `List every version recorded in the state store with the ids of its
published events. Nothing is modified.

Example:
  reprowatch state
  reprowatch state --app org.fossify.calendar --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runState(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.App, "app", "", "show only this application id")
	cmd.Flags().StringVar(&opts.StatePath, "state", "", "state location (overrides state.path)")

	return cmd
}

// stateRow is one line of state output.
type stateRow struct {
	AppID         string `json:"app_id"`
	Version       string `json:"version"`
	VersionCode   int64  `json:"version_code"`
	AssertionID   string `json:"assertion_event_id"`
	AttestationID string `json:"attestation_event_id"`
}

func runState(cmd *cobra.Command, opts *StateOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	store, err := openReadOnlyStore(cmd, cfg.State, opts.StatePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open state", err)
	}
	snap, err := store.Load(commandContext(cmd))
	if err != nil {
		return WrapExitError(ExitFailure, "failed to load state", err)
	}

	rows := []stateRow{}
	for appID, versions := range snap {
		if opts.App != "" && appID != opts.App {
			continue
		}
		for _, e := range versions.Entries {
			rows = append(rows, toRow(e))
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].AppID != rows[j].AppID {
			return rows[i].AppID < rows[j].AppID
		}
		return rows[i].VersionCode < rows[j].VersionCode
	})

	return opts.formatter(cmd.OutOrStdout()).Success(rows, func(w io.Writer) {
		if len(rows) == 0 {
			fmt.Fprintln(w, "No versions recorded.")
			return
		}
		for _, r := range rows {
			fmt.Fprintf(w, "%s %s (%d)\n  assertion   %s\n  attestation %s\n",
				r.AppID, r.Version, r.VersionCode, r.AssertionID, r.AttestationID)
		}
	})
}

func toRow(e model.StateEntry) stateRow {
	return stateRow{
		AppID:         e.AppID,
		Version:       e.Version,
		VersionCode:   e.VersionCode,
		AssertionID:   e.AssertionID,
		AttestationID: e.AttestationID,
	}
}
