package cli

import (
	"fmt"

	"github.com/extpack-labs/extpack/internal/config"
	"github.com/extpack-labs/extpack/internal/configdoc"
	"github.com/spf13/cobra"
)

var rollbackConfig string

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Restore the settings document from its most recent backup",
	Long: `Restore the settings document from the .bak.1 file written before the last
change. The restore itself is atomic.`,
	RunE: runRollback,
}

func init() {
	rollbackCmd.Flags().StringVar(&rollbackConfig, "config", "", "Settings document to restore (default from config)")
	rootCmd.AddCommand(rollbackCmd)
}

func runRollback(cmd *cobra.Command, args []string) error {
	configPath := rollbackConfig
	if configPath == "" {
		configPath = config.Get(config.KeySettingsPath)
	}

	w := &configdoc.Writer{BackupCount: config.GetInt(config.KeyBackupCount)}
	if err := w.Rollback(configPath); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Restored %s from backup\n", configPath)
	return nil
}
