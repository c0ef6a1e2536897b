package main

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jroosing/dnswatch/internal/config"
	"github.com/jroosing/dnswatch/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// rootOptions holds global flags for all commands. The store and source
// flags override the matching configuration keys when set.
type rootOptions struct {
	ConfigPath string
	Debug      bool
	JSONLogs   bool

	Variant   string
	SQLite    string
	Retention int
	MaxSize   string
	Backups   int
	Socket    string
	Source    string
	Input     string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "dnswatch",
		Short: "Capture DNS trace events into a bounded SQLite store",
		Long: `dnswatch normalizes DNS client or server trace events, persists them in
batches to a local SQLite store and enforces retention, a size budget and
rotating backups on that store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	opts.bindFlags(cmd.PersistentFlags())

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newMaintainCommand(opts))

	return cmd
}

func (o *rootOptions) bindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.ConfigPath, "config", "", "path to YAML configuration file (or set "+config.EnvConfigPath+")")
	fs.BoolVar(&o.Debug, "debug", false, "enable debug logging")
	fs.BoolVar(&o.JSONLogs, "json-logs", false, "enable JSON structured logging")
	fs.StringVar(&o.Variant, "variant", "", "override watcher.variant (client|server)")
	fs.StringVarP(&o.SQLite, "sqlite", "s", "", "override store.path")
	fs.IntVar(&o.Retention, "retention", 0, "override store.retention_days")
	fs.StringVar(&o.MaxSize, "max-size", "", "override store.max_size (e.g. 500MB, 1GB)")
	fs.IntVar(&o.Backups, "backups", 0, "override store.backups")
	fs.StringVar(&o.Socket, "socket", "", "override source.socket")
	fs.StringVar(&o.Source, "source", "", "override source.type (dnstap|jsonl)")
	fs.StringVarP(&o.Input, "input", "i", "", "override source.path for the jsonl source (- for stdin)")
}

// loadConfig loads the configuration file and applies the flags that were
// set explicitly on cmd.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(config.ResolveConfigPath(opts.ConfigPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	changed := cmd.Flags().Changed
	if changed("variant") {
		cfg.Watcher.VariantRaw = opts.Variant
	}
	if changed("sqlite") {
		cfg.Store.Path = opts.SQLite
	}
	if changed("retention") {
		cfg.Store.RetentionDays = opts.Retention
	}
	if changed("max-size") {
		cfg.Store.MaxSizeRaw = opts.MaxSize
	}
	if changed("backups") {
		cfg.Store.Backups = opts.Backups
	}
	if changed("socket") {
		cfg.Source.Socket = opts.Socket
	}
	if changed("source") {
		cfg.Source.Type = opts.Source
	}
	if changed("input") {
		cfg.Source.Path = opts.Input
	}
	if opts.JSONLogs {
		cfg.Logging.Structured = true
		cfg.Logging.StructuredFormat = "json"
	}
	if opts.Debug {
		cfg.Logging.Level = "DEBUG"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger configures the process logger and tags it with a fresh run id.
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	logger := logging.Configure(logging.Config{
		Level:            cfg.Logging.Level,
		Structured:       cfg.Logging.Structured,
		StructuredFormat: cfg.Logging.StructuredFormat,
		IncludePID:       cfg.Logging.IncludePID,
		ExtraFields:      cfg.Logging.ExtraFields,
		Output:           cmd.ErrOrStderr(),
	})
	return logger.With("run_id", uuid.NewString(), "variant", cfg.Watcher.Variant.String())
}
