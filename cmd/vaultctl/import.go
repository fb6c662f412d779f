package main

import (
	"fmt"

	"github.com/spf13/cobra"

	vaultcore "github.com/vaultcore/vaultcore"

	"github.com/vaultcore/vaultcore/internal/importer"
	"github.com/vaultcore/vaultcore/internal/ui"
)

var (
	importPassphraseFlag    string
	importArchivePassphrase string
	importModeFlag          string
	importSkipConfirmFlag   bool
)

var importCmd = &cobra.Command{
	Use:   "import <archive-path>",
	Short: "Restore the unlocked store's contents from a portable encrypted archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := parseImportMode(importModeFlag)
		if err != nil {
			return err
		}

		v := vaultcore.New(appDataDir, Version)

		meta, err := v.PreviewImport(args[0])
		if err != nil {
			return err
		}

		if mode == importer.ReplaceAll && !importSkipConfirmFlag {
			if !ui.PromptYesNo(fmt.Sprintf("Replace all existing data with the %d proposals in this archive?", meta.ProposalCount), false) {
				ui.RenderWarn("import cancelled")
				return nil
			}
		}

		passphrase, err := promptSecret("Passphrase", importPassphraseFlag)
		if err != nil {
			return err
		}
		if err := v.Unlock(passphrase); err != nil {
			return err
		}
		defer v.Close()

		archivePassphrase := importArchivePassphrase
		if archivePassphrase == "" {
			archivePassphrase = passphrase
		}

		summary, err := v.Import(args[0], archivePassphrase, mode, func(ev importer.ProgressEvent) {
			if !jsonOutput {
				ui.RenderPass("%s", ev.Message)
			}
		})
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(summary)
			return nil
		}
		ui.RenderPass("imported %d proposals, %d revisions, %d job posts, %d settings",
			summary.ProposalsImported, summary.RevisionsImported, summary.JobsImported, summary.SettingsImported)
		return nil
	},
}

func parseImportMode(s string) (importer.Mode, error) {
	switch s {
	case "", "merge":
		return importer.MergeSkipDuplicates, nil
	case "replace":
		return importer.ReplaceAll, nil
	default:
		return 0, fmt.Errorf("unknown --mode %q (want \"merge\" or \"replace\")", s)
	}
}

func init() {
	importCmd.Flags().StringVar(&importPassphraseFlag, "passphrase", "", "passphrase for the live store (prompted if omitted)")
	importCmd.Flags().StringVar(&importArchivePassphrase, "archive-passphrase", "", "passphrase protecting the archive, if different from the live store's")
	importCmd.Flags().StringVar(&importModeFlag, "mode", "merge", `reconciliation mode: "merge" or "replace"`)
	importCmd.Flags().BoolVar(&importSkipConfirmFlag, "yes", false, "skip the replace-mode confirmation prompt")
	rootCmd.AddCommand(importCmd)
}
