package cli

import (
	"encoding/json"
	"fmt"

	"text/tabwriter"

	"github.com/extpack-labs/extpack/internal/config"
	"github.com/extpack-labs/extpack/internal/configdoc"
	"github.com/extpack-labs/extpack/internal/installer"
	"github.com/spf13/cobra"
)

var (
	listTypeFilter string
	listJSON       bool
	listConfig     string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed extensions",
	Long:  `List the extensions recorded in the settings document.`,
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVar(&listTypeFilter, "type", "", "Filter by type (hooks, mcps, agents, commands)")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
	listCmd.Flags().StringVar(&listConfig, "config", "", "Settings document to read (default from config)")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	configPath := listConfig
	if configPath == "" {
		configPath = config.Get(config.KeySettingsPath)
	}

	inst := installer.New(installer.Options{
		ConfigPath:    configPath,
		InstalledRoot: config.InstalledDir(),
		CacheDir:      config.Get(config.KeyCacheDir),
	})

	records, err := inst.List(listTypeFilter)
	if err != nil {
		return fmt.Errorf("reading settings document: %w", err)
	}

	total := 0
	for _, recs := range records {
		total += len(recs)
	}
	if total == 0 {
		if listTypeFilter != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "No extensions installed matching --type=%s\n", listTypeFilter)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "No extensions installed yet.")
		}
		return nil
	}

	if listJSON {
		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "TYPE\tNAME\tVERSION\tSTATUS\tSOURCE")
	for _, extType := range configdoc.ExtensionTypes {
		for _, rec := range records[extType] {
			version := rec.Version
			if version == "" {
				version = "-"
			}
			status := rec.ValidationStatus
			if status == "" {
				status = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", extType, rec.Name, version, status, rec.Source)
		}
	}
	return w.Flush()
}
