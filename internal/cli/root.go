package cli

import (
	"github.com/extpack-labs/extpack/internal/branding"
	"github.com/extpack-labs/extpack/internal/config"
	"github.com/spf13/cobra"
)

var (
	buildVersion string
	buildCommit  string
	buildDate    string
)

var rootCmd = &cobra.Command{
	Use:   branding.CLIName(),
	Short: branding.Description(),
	Long: branding.DisplayName() + ` acquires extension packages (hooks, MCP servers, agents,
commands) from local paths, Git repositories, and URLs, validates them, and
merges their installation records into a shared settings document.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.Load()
	},
}

// Execute runs the root command with build info injected via ldflags.
func Execute(version, commit, date string) error {
	buildVersion = version
	buildCommit = commit
	buildDate = date
	return rootCmd.Execute()
}
