package cli

import (
	"fmt"
	"slices"

	"github.com/extpack-labs/extpack/internal/config"
	"github.com/extpack-labs/extpack/internal/configdoc"
	"github.com/extpack-labs/extpack/internal/installer"
	"github.com/spf13/cobra"
)

var uninstallConfig string

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <type> <name>",
	Short: "Remove an installed extension",
	Long: `Remove an extension's record from the settings document and delete its
payload from ~/.extpack/installed/. The type is one of: hooks, mcps, agents,
commands.`,
	Args: cobra.ExactArgs(2),
	RunE: runUninstall,
}

func init() {
	uninstallCmd.Flags().StringVar(&uninstallConfig, "config", "", "Settings document to update (default from config)")
	rootCmd.AddCommand(uninstallCmd)
}

func runUninstall(cmd *cobra.Command, args []string) error {
	extType, name := args[0], args[1]
	if !slices.Contains(configdoc.ExtensionTypes, extType) {
		return fmt.Errorf("unknown extension type %q (want one of %v)", extType, configdoc.ExtensionTypes)
	}

	configPath := uninstallConfig
	if configPath == "" {
		configPath = config.Get(config.KeySettingsPath)
	}

	inst := installer.New(installer.Options{
		ConfigPath:    configPath,
		InstalledRoot: config.InstalledDir(),
		CacheDir:      config.Get(config.KeyCacheDir),
		BackupCount:   config.GetInt(config.KeyBackupCount),
	})

	result, err := inst.Uninstall(extType, name)
	if err != nil {
		return err
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(cmd.OutOrStdout(), "  ⚠️  %s\n", w)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Uninstalled %s/%s\n", extType, name)
	return nil
}
