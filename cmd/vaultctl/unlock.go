package main

import (
	"github.com/spf13/cobra"

	vaultcore "github.com/vaultcore/vaultcore"

	"github.com/vaultcore/vaultcore/internal/ui"
)

var (
	unlockPassphraseFlag  string
	unlockRecoveryKeyFlag string
)

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Unlock the store at app-data-dir and confirm access",
	RunE: func(cmd *cobra.Command, args []string) error {
		v := vaultcore.New(appDataDir, Version)

		if unlockRecoveryKeyFlag != "" {
			if err := v.UnlockWithRecoveryKey(unlockRecoveryKeyFlag); err != nil {
				return err
			}
		} else {
			passphrase, err := promptSecret("Passphrase", unlockPassphraseFlag)
			if err != nil {
				return err
			}
			if err := v.Unlock(passphrase); err != nil {
				return err
			}
		}
		defer v.Close()

		if jsonOutput {
			outputJSON(map[string]bool{"unlocked": true})
			return nil
		}
		ui.RenderPass("vault unlocked")
		return nil
	},
}

func init() {
	unlockCmd.Flags().StringVar(&unlockPassphraseFlag, "passphrase", "", "passphrase (prompted if omitted and a TTY is attached)")
	unlockCmd.Flags().StringVar(&unlockRecoveryKeyFlag, "recovery-key", "", "unlock using the recovery key instead of the passphrase")
	rootCmd.AddCommand(unlockCmd)
}
