package main

import (
	"errors"

	"github.com/spf13/cobra"

	vaultcore "github.com/vaultcore/vaultcore"

	"github.com/vaultcore/vaultcore/internal/exporter"
	"github.com/vaultcore/vaultcore/internal/ui"
	"github.com/vaultcore/vaultcore/internal/vaulterrors"
)

var (
	exportPassphraseFlag string
	exportHintFlag       string
)

var exportCmd = &cobra.Command{
	Use:   "export <dest-path>",
	Short: "Snapshot the unlocked store to a portable encrypted archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		passphrase, err := promptSecret("Passphrase", exportPassphraseFlag)
		if err != nil {
			return err
		}

		v := vaultcore.New(appDataDir, Version)
		if err := v.Unlock(passphrase); err != nil {
			return err
		}
		defer v.Close()

		var hint *string
		if exportHintFlag != "" {
			hint = &exportHintFlag
		}

		err = v.Export(args[0], hint, func(ev exporter.ProgressEvent) {
			if !jsonOutput {
				ui.RenderPass("%s: %s", ev.Phase, ev.Message)
			}
		})
		if err != nil {
			var rl *vaulterrors.RateLimitedResult
			if errors.As(err, &rl) {
				if jsonOutput {
					outputJSON(map[string]interface{}{"rateLimited": true, "secondsRemaining": rl.SecondsRemaining})
					return nil
				}
				ui.RenderWarn("export rate limited: retry in %d seconds", rl.SecondsRemaining)
				return nil
			}
			return err
		}

		if jsonOutput {
			outputJSON(map[string]string{"path": args[0]})
		} else {
			ui.RenderPass("archive written to %s", args[0])
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportPassphraseFlag, "passphrase", "", "passphrase (prompted if omitted)")
	exportCmd.Flags().StringVar(&exportHintFlag, "hint", "", "optional passphrase hint embedded in the archive metadata")
	rootCmd.AddCommand(exportCmd)
}
