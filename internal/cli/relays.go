package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/reprowatch/internal/relay"
)

// NewRelaysCommand creates the relays command.
func NewRelaysCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "relays",
		Short: "Check connectivity to the configured relays",
		Long: `Connect to every configured relay and report which are reachable.
Exits 1 when none is.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelays(cmd, rootOpts)
		},
	}
}

func runRelays(cmd *cobra.Command, opts *RootOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	pool := relay.NewPool(opts.deps.Dial, opts.logger(cmd.ErrOrStderr()))
	defer pool.Close()

	results := pool.Probe(commandContext(cmd), cfg.Nostr.Relays, probeTimeout)
	if err := opts.formatter(cmd.OutOrStdout()).Success(results, func(w io.Writer) {
		for _, r := range results {
			if r.OK {
				fmt.Fprintf(w, "ok    %s (%s)\n", r.URL, r.Latency.Round(time.Millisecond))
			} else {
				fmt.Fprintf(w, "FAIL  %s: %s\n", r.URL, r.Error)
			}
		}
	}); err != nil {
		return err
	}

	if reachable(results) == 0 {
		return NewExitError(ExitFailure, "no relay reachable")
	}
	return nil
}
