package cli

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/extpack-labs/extpack/internal/branding"
	"github.com/spf13/cobra"
)

var (
	versionShort bool
	versionJSON  bool
)

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Print version number only")
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "Print version info as JSON")
	rootCmd.AddCommand(versionCmd)
}

// buildInfo is the JSON shape of `extpack version --json`.
type buildInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if versionShort {
			fmt.Println(buildVersion)
			return nil
		}

		if versionJSON {
			info := buildInfo{
				Name:      branding.CLIName(),
				Version:   buildVersion,
				Commit:    buildCommit,
				Date:      buildDate,
				GoVersion: runtime.Version(),
				OS:        runtime.GOOS,
				Arch:      runtime.GOARCH,
			}
			out, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling version info: %w", err)
			}
			fmt.Println(string(out))
			return nil
		}

		fmt.Printf("%s version %s (commit: %s, built: %s, %s/%s)\n",
			branding.CLIName(), buildVersion, buildCommit, buildDate, runtime.GOOS, runtime.GOARCH)
		return nil
	},
}
