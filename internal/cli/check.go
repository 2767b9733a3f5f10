package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/reprowatch/internal/config"
	"github.com/roach88/reprowatch/internal/engine"
	"github.com/roach88/reprowatch/internal/model"
	"github.com/roach88/reprowatch/internal/publish"
	"github.com/roach88/reprowatch/internal/relay"
	"github.com/roach88/reprowatch/internal/state"
	"github.com/roach88/reprowatch/internal/zapstore"
)

// probeTimeout bounds each relay connectivity check.
const probeTimeout = 10 * time.Second

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	App       string
	DryRun    bool
	StatePath string
	Preflight bool
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Publish events for newly verified versions",
		Long: `Fetch the reproducible-build log of every configured application, find
versions not yet recorded in the state file, and publish an assertion and an
attestation for each, oldest first.

A failing application does not stop the others. The command exits 1 only
when every selected application failed.

Example:
  reprowatch check
  reprowatch check --app org.fossify.calendar --dry-run
  reprowatch check --preflight --state /var/lib/reprowatch/state.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.App, "app", "", "check only this application id")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print events instead of publishing; do not write state")
	cmd.Flags().StringVar(&opts.StatePath, "state", "", "state location (overrides state.path)")
	cmd.Flags().BoolVar(&opts.Preflight, "preflight", false, "probe relays before checking")

	return cmd
}

func runCheck(cmd *cobra.Command, opts *CheckOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	apps, err := selectApps(cfg, opts.App)
	if err != nil {
		return err
	}
	if !opts.DryRun && cfg.Nostr.Nsec == "" {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("no signing key: set nostr.nsec or %s", config.EnvSigningKey))
	}

	logger := opts.logger(cmd.ErrOrStderr())
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := relay.NewPool(opts.deps.Dial, logger)
	defer func() {
		if err := pool.Close(); err != nil {
			logger.Warn("closing relays", zap.Error(err))
		}
	}()

	if opts.Preflight {
		results := pool.Probe(ctx, cfg.Nostr.Relays, probeTimeout)
		if reachable(results) == 0 {
			_ = opts.formatter(cmd.OutOrStdout()).Error("RELAYS", "no relay reachable", results)
			return NewExitError(ExitFailure, "preflight failed: no relay reachable")
		}
		for _, r := range results {
			if !r.OK {
				logger.Warn("relay unreachable", zap.String("relay", r.URL), zap.String("error", r.Error))
			}
		}
	}

	var store state.Store
	if opts.DryRun {
		store, err = openReadOnlyStore(cmd, cfg.State, opts.StatePath)
	} else {
		store, err = openStore(cfg.State, opts.StatePath)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open state", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("closing state", zap.Error(err))
		}
	}()

	var pub publish.Publisher
	if opts.DryRun {
		pub = &publish.DryRunPublisher{Out: cmd.OutOrStdout(), Clock: opts.deps.Clock}
	} else {
		popts := []publish.Option{
			publish.RequireAll(cfg.Nostr.RequireAllRelays),
			publish.WithLogger(logger),
		}
		if opts.deps.Clock != nil {
			popts = append(popts, publish.WithClock(opts.deps.Clock))
		}
		pub = publish.Throttled(publish.NewNostrPublisher(pool, popts...), cfg.PublishLimiter())
	}

	source := opts.deps.Source
	if source == nil {
		source = cfg.Source()
	}

	eopts := []engine.Option{engine.WithLogger(logger)}
	if opts.deps.RunIDs != nil {
		eopts = append(eopts, engine.WithRunIDGenerator(opts.deps.RunIDs))
	}
	if needsZapstore(apps) {
		eopts = append(eopts, engine.WithReleaseResolver(zapstore.NewResolver(pool, cfg.Nostr.Relays, logger)))
	}

	orch := engine.New(source, store, pub, eopts...)
	report, runErr := orch.Run(ctx, engine.RunConfig{
		Apps:       apps,
		SigningKey: cfg.Nostr.Nsec,
		Relays:     cfg.Nostr.Relays,
		DryRun:     opts.DryRun,
	})

	if err := opts.formatter(cmd.OutOrStdout()).Success(report, func(w io.Writer) {
		printReport(w, report)
	}); err != nil {
		return err
	}

	if runErr != nil {
		return WrapExitError(ExitFailure, "run failed", runErr)
	}
	if report.AllFailed() {
		return NewExitError(ExitFailure, "all applications failed")
	}
	return nil
}

// selectApps returns the configured applications, or just one with --app.
func selectApps(cfg *config.Config, only string) ([]model.AppSpec, error) {
	if only != "" {
		app, ok := cfg.App(only)
		if !ok {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("application %q is not configured", only))
		}
		return []model.AppSpec{app}, nil
	}
	apps := cfg.AppSpecs()
	if len(apps) == 0 {
		return nil, NewExitError(ExitCommandError, "no applications configured")
	}
	return apps, nil
}

func needsZapstore(apps []model.AppSpec) bool {
	for _, a := range apps {
		if a.ZapstoreAppID != "" {
			return true
		}
	}
	return false
}

func reachable(results []relay.ProbeResult) int {
	n := 0
	for _, r := range results {
		if r.OK {
			n++
		}
	}
	return n
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// printReport renders the run summary.
func printReport(w io.Writer, r *engine.Report) {
	mode := ""
	if r.DryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(w, "Run %s%s: %d apps checked, %d failed, %d events published\n",
		r.RunID, mode, len(r.Apps), r.Failures(), r.EventCount())

	for _, a := range r.Apps {
		if a.Failed() {
			fmt.Fprintf(w, "  %s: FAILED [%s] at %s: %s\n", a.AppID, a.Code, a.FailedPhase, a.Error)
		} else {
			fmt.Fprintf(w, "  %s: %d new of %d records\n", a.AppID, a.New, a.Records)
		}
		for _, v := range a.Published {
			verdict := "reproducible"
			if !v.Reproducible {
				verdict = "NOT reproducible"
			}
			fmt.Fprintf(w, "    %s (%d) %s\n", v.Version, v.VersionCode, verdict)
			fmt.Fprintf(w, "      assertion   %s\n", v.AssertionID)
			fmt.Fprintf(w, "      attestation %s\n", v.AttestationID)
		}
	}
}
