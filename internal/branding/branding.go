// Package branding provides compile-time identity values for the CLI.
//
// Forkers edit branding.yaml in this package, then rebuild. Go's
// //go:embed bakes the values into the binary.
package branding

import (
	_ "embed"
	"strings"
	"sync"

	"go.yaml.in/yaml/v3"
)

//go:embed branding.yaml
var rawBranding []byte

var (
	once     sync.Once
	defaults brand
)

type brand struct {
	CLIName     string `yaml:"cli_name"`
	DisplayName string `yaml:"display_name"`
	Description string `yaml:"description"`
	HomeDir     string `yaml:"home_dir"`
	EnvPrefix   string `yaml:"env_prefix"`
	GoModule    string `yaml:"go_module"`
	GitHubRepo  string `yaml:"github_repo"`
}

func load() {
	once.Do(func() {
		// Set hard defaults in case the embedded file is missing/empty.
		defaults = brand{
			CLIName:     "extpack",
			DisplayName: "ExtPack",
			Description: "Package manager for AI assistant extensions",
			HomeDir:     ".extpack",
			EnvPrefix:   "EXTPACK",
			GoModule:    "github.com/extpack-labs/extpack",
			GitHubRepo:  "extpack-labs/extpack",
		}
		// Overlay with embedded YAML values.
		_ = yaml.Unmarshal(rawBranding, &defaults)
	})
}

// CLIName returns the root command name (e.g., "extpack").
func CLIName() string { load(); return defaults.CLIName }

// DisplayName returns the human-readable product name (e.g., "ExtPack").
func DisplayName() string { load(); return defaults.DisplayName }

// Description returns the short product description.
func Description() string { load(); return defaults.Description }

// HomeDir returns the dot-directory name under $HOME (e.g., ".extpack").
func HomeDir() string { load(); return defaults.HomeDir }

// EnvPrefix returns the environment variable prefix (e.g., "EXTPACK").
func EnvPrefix() string { load(); return defaults.EnvPrefix }

// GoModule returns the Go module path.
func GoModule() string { load(); return defaults.GoModule }

// GitHubRepo returns the "owner/repo" string.
func GitHubRepo() string { load(); return defaults.GitHubRepo }

// EnvVar returns a fully qualified env var name, e.g., EnvVar("HOME") → "EXTPACK_HOME".
func EnvVar(suffix string) string {
	load()
	return defaults.EnvPrefix + "_" + strings.ToUpper(suffix)
}
