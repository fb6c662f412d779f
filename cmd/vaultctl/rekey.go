package main

import (
	"github.com/spf13/cobra"

	vaultcore "github.com/vaultcore/vaultcore"

	"github.com/vaultcore/vaultcore/internal/ui"
)

var (
	rekeyOldPassphraseFlag string
	rekeyNewPassphraseFlag string
)

var rekeyCmd = &cobra.Command{
	Use:   "rekey",
	Short: "Change the store's passphrase in place, rotating any recovery key to match",
	RunE: func(cmd *cobra.Command, args []string) error {
		oldPass, err := promptSecret("Current passphrase", rekeyOldPassphraseFlag)
		if err != nil {
			return err
		}
		newPass, err := promptSecret("New passphrase", rekeyNewPassphraseFlag)
		if err != nil {
			return err
		}

		v := vaultcore.New(appDataDir, Version)
		if err := v.Unlock(oldPass); err != nil {
			return err
		}
		defer v.Close()

		if err := v.Rekey(oldPass, newPass); err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(map[string]bool{"rekeyed": true})
			return nil
		}
		ui.RenderPass("passphrase changed")
		return nil
	},
}

func init() {
	rekeyCmd.Flags().StringVar(&rekeyOldPassphraseFlag, "old-passphrase", "", "current passphrase (prompted if omitted)")
	rekeyCmd.Flags().StringVar(&rekeyNewPassphraseFlag, "new-passphrase", "", "new passphrase (prompted if omitted)")
	rootCmd.AddCommand(rekeyCmd)
}
