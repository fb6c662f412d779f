// Command vaultctl is the operator-facing CLI over package vault: create,
// unlock, rekey, export, import, migrate, and doctor a local encrypted
// store without needing the desktop app running.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vaultcore/vaultcore/internal/config"
	"github.com/vaultcore/vaultcore/internal/importer"
	"github.com/vaultcore/vaultcore/internal/ui"
)

var (
	// Version is overridden by ldflags at release build time.
	Version = "0.1.0-dev"

	jsonOutput bool
	appDataDir string
)

var rootCmd = &cobra.Command{
	Use:   "vaultctl",
	Short: "Operate a vaultcore encrypted local data store",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if appDataDir == "" {
			appDataDir = config.GetString("store.path")
		}
		if appDataDir == "" {
			dir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("resolve default app data dir: %w", err)
			}
			appDataDir = filepath.Join(dir, "vaultcore")
		}
		if err := importer.SweepStaleTempFiles(appDataDir); err != nil && !jsonOutput {
			ui.RenderWarn("sweep stale temp files: %v", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit machine-readable JSON instead of human text")
	rootCmd.PersistentFlags().StringVar(&appDataDir, "app-data-dir", "", "override the app data directory (default: OS config dir/vaultcore)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !jsonOutput {
			ui.RenderFail("%v", err)
		} else {
			outputJSON(map[string]string{"error": err.Error()})
		}
		os.Exit(1)
	}
}

func outputJSON(v interface{}) {
	enc := json.NewEncoder(rootCmd.OutOrStdout())
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
