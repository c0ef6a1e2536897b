package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newMaintainCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "maintain",
		Short: "Run one maintenance pass and print its report",
		Long: `Open the store and run one maintenance pass immediately: backup rotation,
retention delete, size enforcement and a VACUUM after large deletions. The
report is printed as JSON.

Example:
  dnswatch maintain --sqlite /var/lib/dnswatch/server.db --retention 7 --backups 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, rootOpts)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)

			store, maint, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			report, runErr := maint.Run(cmd.Context())

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if runErr != nil {
				return fmt.Errorf("maintenance incomplete: %w", runErr)
			}
			return nil
		},
	}
}
