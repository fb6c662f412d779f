package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vaultcore/vaultcore/internal/ui"
	vaultcore "github.com/vaultcore/vaultcore"
)

var createPassphraseFlag string

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a brand new encrypted store and print a one-time recovery key",
	RunE: func(cmd *cobra.Command, args []string) error {
		passphrase, err := promptSecret("Passphrase", createPassphraseFlag)
		if err != nil {
			return err
		}

		v := vaultcore.New(appDataDir, Version)
		recoveryKey, err := v.Create(passphrase)
		if err != nil {
			return err
		}
		defer v.Close()

		if jsonOutput {
			outputJSON(map[string]string{"recoveryKey": recoveryKey})
			return nil
		}

		ui.RenderPass("vault created at %s", appDataDir)
		fmt.Println()
		fmt.Println("Recovery key (shown once, store it somewhere safe):")
		fmt.Println()
		fmt.Println("    " + recoveryKey)
		fmt.Println()
		ui.RenderWarn("this key will not be shown again; it is the only way to recover access if the passphrase is lost")
		return nil
	},
}

func init() {
	createCmd.Flags().StringVar(&createPassphraseFlag, "passphrase", "", "passphrase for the new store (prompted if omitted and a TTY is attached)")
	rootCmd.AddCommand(createCmd)
}
