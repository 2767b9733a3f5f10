package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/roach88/reprowatch/internal/config"
	"github.com/roach88/reprowatch/internal/engine"
	"github.com/roach88/reprowatch/internal/publish"
	"github.com/roach88/reprowatch/internal/rbtlog"
	"github.com/roach88/reprowatch/internal/relay"
	"github.com/roach88/reprowatch/internal/state"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string
	EnvFile string

	deps Deps
}

// Deps replaces external collaborators. Zero fields use the real thing.
type Deps struct {
	Source rbtlog.Source
	Dial   relay.Dialer
	Getenv func(string) string
	Clock  publish.Clock
	RunIDs engine.RunIDGenerator
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the reprowatch command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(Deps{})
}

func newRootCommand(deps Deps) *cobra.Command {
	opts := &RootOptions{deps: deps}

	cmd := &cobra.Command{
		Use:   "reprowatch",
		Short: "Publish reproducible-build verdicts to Nostr",
		Long: `reprowatch follows the IzzyOnDroid reproducible-build log for a set of
Android applications and publishes a signed assertion and attestation to
Nostr relays for every newly verified version.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", config.DefaultPath, "path to configuration file")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded before the configuration")

	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewStateCommand(opts))
	cmd.AddCommand(NewRelaysCommand(opts))

	return cmd
}

// loadConfig reads the configuration. Failures are command errors.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.Config, config.Options{EnvFile: o.EnvFile, Getenv: o.deps.Getenv})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// logger writes human-readable lines to w; --verbose enables debug.
func (o *RootOptions) logger(w io.Writer) *zap.Logger {
	level := zapcore.InfoLevel
	if o.Verbose {
		level = zapcore.DebugLevel
	}
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(w), level)
	return zap.New(core)
}

func (o *RootOptions) formatter(w io.Writer) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: w}
}

// openStore opens the configured backend. path overrides the configured
// location when non-empty.
func openStore(sc config.StateConfig, path string) (state.Store, error) {
	if path == "" {
		path = sc.Path
	}
	switch sc.Backend {
	case "sqlite":
		return state.OpenSQLite(path)
	case "json", "":
		return state.OpenFile(path)
	}
	return nil, fmt.Errorf("unknown state backend %q", sc.Backend)
}

// openReadOnlyStore loads the configured state into memory without creating
// or modifying anything on disk. A missing state location is empty state.
func openReadOnlyStore(cmd *cobra.Command, sc config.StateConfig, path string) (*state.MemoryStore, error) {
	if path == "" {
		path = sc.Path
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return state.NewMemoryStore(), nil
	}

	st, err := openStore(sc, path)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	snap, err := st.Load(cmd.Context())
	if err != nil {
		return nil, err
	}
	return state.NewMemoryStoreFrom(snap), nil
}
