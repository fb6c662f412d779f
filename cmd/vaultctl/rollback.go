package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	vaultcore "github.com/vaultcore/vaultcore"

	"github.com/vaultcore/vaultcore/internal/ui"
)

var rollbackPassphraseFlag string

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Restore the previously backed-up executable after a failed doctor run",
	RunE: func(cmd *cobra.Command, args []string) error {
		passphrase, err := promptSecret("Passphrase", rollbackPassphraseFlag)
		if err != nil {
			return err
		}

		v := vaultcore.New(appDataDir, Version)
		if err := v.Unlock(passphrase); err != nil {
			return err
		}
		defer v.Close()

		failed, err := v.UpdateFailedPreviously(Version)
		if err != nil {
			return err
		}
		if failed {
			return fmt.Errorf("version %s already failed a rollback once; resolve manually", Version)
		}

		execPath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolve running executable: %w", err)
		}

		if err := v.RollbackUpdate(execPath); err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(map[string]bool{"rolledBack": true})
			return nil
		}
		ui.RenderPass("restored the previous executable; restart vaultctl to use it")
		return nil
	},
}

func init() {
	rollbackCmd.Flags().StringVar(&rollbackPassphraseFlag, "passphrase", "", "passphrase (prompted if omitted)")
	rootCmd.AddCommand(rollbackCmd)
}
