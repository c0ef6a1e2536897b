package main

import (
	"fmt"
	"strings"

	"github.com/jroosing/dnswatch/internal/database"
	"github.com/spf13/cobra"
)

func newMigrateCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Bring the store schema to the current version and exit",
		Long: `Open the store, apply any pending additive schema steps and report the
result. Running it on an up-to-date store changes nothing.

Example:
  dnswatch migrate --variant client --sqlite C:\Logs\dnsclient.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, rootOpts)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)

			store, err := database.Open(cmd.Context(), cfg.Store.Path, cfg.Watcher.Variant, database.Options{Logger: logger})
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer store.Close()

			res := store.Migration()
			version, err := store.SchemaVersion(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read schema version: %w", err)
			}

			out := cmd.OutOrStdout()
			switch {
			case res.Skipped:
				fmt.Fprintf(out, "%s: schema version %d is newer than %d, left untouched\n",
					cfg.Store.Path, res.From, database.CurrentSchemaVersion)
			case version != database.CurrentSchemaVersion:
				return fmt.Errorf("%s: migration incomplete, schema version %d", cfg.Store.Path, version)
			case res.From == res.To:
				fmt.Fprintf(out, "%s: schema version %d, nothing to do\n", cfg.Store.Path, version)
			default:
				fmt.Fprintf(out, "%s: migrated schema %d -> %d", cfg.Store.Path, res.From, res.To)
				if len(res.Added) > 0 {
					fmt.Fprintf(out, " (added %s)", strings.Join(res.Added, ", "))
				}
				if res.Rewritten > 0 {
					fmt.Fprintf(out, " (%d timestamps normalized to UTC)", res.Rewritten)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
}
