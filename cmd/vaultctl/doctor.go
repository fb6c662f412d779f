package main

import (
	"os"

	"github.com/spf13/cobra"

	vaultcore "github.com/vaultcore/vaultcore"

	"github.com/vaultcore/vaultcore/internal/ui"
)

var doctorPassphraseFlag string

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run the post-update health-check probe suite against the unlocked store",
	RunE: func(cmd *cobra.Command, args []string) error {
		passphrase, err := promptSecret("Passphrase", doctorPassphraseFlag)
		if err != nil {
			return err
		}

		v := vaultcore.New(appDataDir, Version)
		if err := v.Unlock(passphrase); err != nil {
			return err
		}
		defer v.Close()

		result, err := v.HealthCheck()
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(result)
		} else {
			if result.Passed {
				ui.RenderPass("%d/%d checks passed in %dms", result.ChecksRun-len(result.Failures), result.ChecksRun, result.DurationMS)
			} else {
				ui.RenderFail("%d checks failed", len(result.Failures))
			}
			for _, f := range result.Failures {
				if f.Critical {
					ui.RenderFail("%s: %v", f.Check, f.Err)
				} else {
					ui.RenderWarn("%s: %v", f.Check, f.Err)
				}
			}
		}

		if !result.Passed {
			if !jsonOutput {
				ui.RenderWarn("health check failed; run `vaultctl rollback` to restore the previous binary")
			}
			return nil
		}

		updated, err := v.DetectUpdate(Version)
		if err != nil {
			return err
		}
		if updated {
			execPath, err := os.Executable()
			if err != nil {
				return err
			}
			if err := v.ConfirmUpdateHealthy(execPath); err != nil {
				return err
			}
			if !jsonOutput {
				ui.RenderPass("backed up executable and confirmed update to %s", Version)
			}
		}
		return nil
	},
}

func init() {
	doctorCmd.Flags().StringVar(&doctorPassphraseFlag, "passphrase", "", "passphrase (prompted if omitted)")
	rootCmd.AddCommand(doctorCmd)
}
