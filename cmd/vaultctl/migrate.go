package main

import (
	"github.com/spf13/cobra"

	vaultcore "github.com/vaultcore/vaultcore"

	"github.com/vaultcore/vaultcore/internal/ui"
)

var (
	migrateLegacyPathFlag string
	migratePassphraseFlag string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Convert a preexisting unencrypted database into this store's encrypted format",
	RunE: func(cmd *cobra.Command, args []string) error {
		passphrase, err := promptSecret("New passphrase", migratePassphraseFlag)
		if err != nil {
			return err
		}

		v := vaultcore.New(appDataDir, Version)
		result, err := v.Migrate(migrateLegacyPathFlag, passphrase)
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{
				"proposalCount":  result.ProposalCount,
				"settingsCount":  result.SettingsCount,
				"jobPostCount":   result.JobPostCount,
				"backupJsonPath": result.BackupJSONPath,
				"durationMs":     result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
			})
			return nil
		}
		ui.RenderPass("migrated %d proposals, %d settings, %d job posts", result.ProposalCount, result.SettingsCount, result.JobPostCount)
		ui.RenderPass("pre-migration backup written to %s", result.BackupJSONPath)
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrateLegacyPathFlag, "legacy-path", "", "path to the preexisting unencrypted database file")
	migrateCmd.Flags().StringVar(&migratePassphraseFlag, "passphrase", "", "passphrase for the new encrypted store (prompted if omitted)")
	_ = migrateCmd.MarkFlagRequired("legacy-path")
	rootCmd.AddCommand(migrateCmd)
}
