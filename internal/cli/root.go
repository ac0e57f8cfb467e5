package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/roach88/patientdb/internal/config"
	"github.com/roach88/patientdb/internal/replica"
)

// RootOptions holds global flags and the configuration resolved from them.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// Config is resolved in PersistentPreRunE and valid inside RunE.
	Config config.Config
	Logger *slog.Logger

	viper *viper.Viper
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the patientdb CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{viper: config.New()}

	cmd := &cobra.Command{
		Use:   "patientdb",
		Short: "patientdb - local-first patient records",
		Long: `Local-first patient records kept in sync across replicas.

Every mutation is written to the local SQLite store and announced to the
other replicas on the configured medium (memory, redis or ws).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}

			cfg, err := config.Load(opts.viper, opts.ConfigPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load configuration", err)
			}
			opts.Config = cfg
			opts.Logger = newLogger(cmd.ErrOrStderr(), cfg.Log, opts.Verbose)
			slog.SetDefault(opts.Logger)
			return nil
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.ConfigPath, "config", "", "config file (default ./patientdb.yaml)")
	flags.String("db", "", "path to SQLite database")
	flags.String("medium", "", "broadcast medium (memory|redis|ws)")
	flags.String("channel", "", "broadcast channel name")
	flags.String("redis-url", "", "redis URL for the redis medium")
	flags.String("relay-url", "", "relay URL for the ws medium")
	flags.String("log-format", "", "log format (text|json)")

	for key, flag := range map[string]string{
		"db":         "db",
		"medium":     "medium",
		"channel":    "channel",
		"redis.url":  "redis-url",
		"relay.url":  "relay-url",
		"log.format": "log-format",
	} {
		_ = opts.viper.BindPFlag(key, flags.Lookup(flag))
	}

	cmd.AddCommand(NewInsertCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewRelayCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// newLogger builds the process logger. --verbose forces debug level.
func newLogger(w io.Writer, cfg config.LogConfig, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	hopts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// formatter returns an OutputFormatter bound to cmd's writers.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// openReplica opens the configured store and medium. With the memory
// medium the replica is local-only: there is no other replica in this
// process to reach.
func (o *RootOptions) openReplica(ctx context.Context) (*replica.Replica, error) {
	r, err := replica.Open(ctx, o.Config, nil, replica.WithLogger(o.Logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open replica", err)
	}
	o.Logger.Debug("replica opened", "replica", r.ID(), "db", o.Config.DB, "medium", o.Config.Medium)
	return r, nil
}

// closeReplica closes r, logging rather than returning the error so it
// never masks the command's own result.
func (o *RootOptions) closeReplica(r *replica.Replica) {
	if err := r.Close(); err != nil {
		o.Logger.Error("error closing replica", "error", err)
	}
}
