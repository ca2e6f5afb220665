package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/extpack-labs/extpack/internal/config"
	"github.com/extpack-labs/extpack/internal/installer"
	"github.com/extpack-labs/extpack/internal/merge"
	"github.com/extpack-labs/extpack/internal/security"
	"github.com/extpack-labs/extpack/internal/source"
	"github.com/spf13/cobra"
)

var (
	installRevision  string
	installChecksum  string
	installNoCache   bool
	installNoExtract bool
	installForce     bool
	installResolve   bool
	installYes       bool
	installMaxSize   int
	installTimeout   int
	installRetries   int
	installStrategy  string
	installJSON      bool
	installConfig    string
)

var installCmd = &cobra.Command{
	Use:   "install <source>",
	Short: "Install an extension from a path, Git repository, or URL",
	Long: `Install an extension package into ~/.extpack/installed/ and record it in the
settings document. The source may be a local directory or archive, a Git
repository (cloned at --revision when given), or an HTTP(S) URL.

The settings document is updated atomically: either the new record is fully
merged and written, or the document is left exactly as it was.`,
	Args: cobra.ExactArgs(1),
	RunE: runInstall,
}

func init() {
	installCmd.Flags().StringVar(&installRevision, "revision", "", "Git revision (branch, tag, or commit) to install")
	installCmd.Flags().StringVar(&installChecksum, "checksum", "", "Expected SHA-256 of the downloaded file")
	installCmd.Flags().BoolVar(&installNoCache, "no-cache", false, "Bypass the download cache")
	installCmd.Flags().BoolVar(&installNoExtract, "no-extract", false, "Install the downloaded file as-is without extracting")
	installCmd.Flags().BoolVar(&installForce, "force", false, "Proceed past critical security findings and invalid manifests")
	installCmd.Flags().BoolVar(&installResolve, "resolve", false, "Prompt for each merge conflict instead of keeping existing values")
	installCmd.Flags().BoolVarP(&installYes, "yes", "y", false, "Resolve merge conflicts in favor of the incoming record without prompting")
	installCmd.Flags().IntVar(&installMaxSize, "max-size", 0, "Download size limit in MB (default from config)")
	installCmd.Flags().IntVar(&installTimeout, "timeout", 0, "Network timeout in seconds (default from config)")
	installCmd.Flags().IntVar(&installRetries, "retries", 2, "Retries for transient network failures")
	installCmd.Flags().StringVar(&installStrategy, "strategy", "", "Array merge strategy: dedupe, append, or replace (default from config)")
	installCmd.Flags().BoolVar(&installJSON, "json", false, "Print the full result as JSON")
	installCmd.Flags().StringVar(&installConfig, "config", "", "Settings document to merge into (default from config)")
	rootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	src := source.ParseSource(args[0], installRevision, installChecksum)

	opts, err := installerOptions()
	if err != nil {
		return err
	}

	if !installJSON {
		opts.Progress = printProgress(cmd)
	}

	inst := installer.New(opts)
	result, err := inst.Install(cmd.Context(), src)

	if installJSON {
		data, mErr := json.MarshalIndent(result, "", "  ")
		if mErr != nil {
			return fmt.Errorf("marshaling result: %w", mErr)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	}

	printResult(cmd, result)
	return err
}

// installerOptions builds installer options from flags with config-file
// fallbacks.
func installerOptions() (installer.Options, error) {
	maxSize := installMaxSize
	if maxSize == 0 {
		maxSize = config.GetInt(config.KeyMaxSizeMB)
	}
	timeout := installTimeout
	if timeout == 0 {
		timeout = config.GetInt(config.KeyTimeoutSeconds)
	}
	configPath := installConfig
	if configPath == "" {
		configPath = config.Get(config.KeySettingsPath)
	}
	strategy := installStrategy
	if strategy == "" {
		strategy = config.Get(config.KeyDefaultStrategy)
	}
	switch merge.Strategy(strategy) {
	case merge.StrategyDedupe, merge.StrategyAppend, merge.StrategyReplace:
	default:
		return installer.Options{}, fmt.Errorf("unknown array strategy %q (want dedupe, append, or replace)", strategy)
	}

	opts := installer.Options{
		ConfigPath:     configPath,
		InstalledRoot:  config.InstalledDir(),
		CacheDir:       config.Get(config.KeyCacheDir),
		NoCache:        installNoCache,
		NoExtract:      installNoExtract,
		Force:          installForce,
		MaxSizeMB:      maxSize,
		TimeoutSeconds: timeout,
		Retries:        installRetries,
		ArrayStrategy:  merge.Strategy(strategy),
		AllowedDomains: config.GetStringSlice(config.KeyAllowedDomains),
		BlockedDomains: config.GetStringSlice(config.KeyBlockedDomains),
		BackupCount:    config.GetInt(config.KeyBackupCount),
	}

	if installYes {
		opts.ResolveConflicts = true
		opts.Resolver = merge.StaticResolver(merge.UseIncoming)
	} else if installResolve {
		opts.ResolveConflicts = true
		opts.Resolver = promptResolver(os.Stdin, os.Stderr)
	}
	return opts, nil
}

// promptResolver asks the user to pick a side for each conflict.
func promptResolver(in *os.File, out *os.File) merge.Resolver {
	scanner := bufio.NewScanner(in)
	return merge.ResolverFunc(func(c merge.Conflict) (merge.Resolution, error) {
		fmt.Fprintf(out, "Conflict at %s:\n  existing: %v\n  incoming: %v\n", c.KeyPath, c.Existing, c.Incoming)
		fmt.Fprint(out, "? Use incoming value? (y/N) ")
		if scanner.Scan() {
			answer := strings.TrimSpace(strings.ToLower(scanner.Text()))
			if answer == "y" || answer == "yes" {
				return merge.UseIncoming, nil
			}
		}
		return merge.KeepExisting, nil
	})
}

// printProgress renders download progress on one line.
func printProgress(cmd *cobra.Command) source.ProgressFunc {
	return func(p source.Progress) {
		if p.Total > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "\rDownloading... %3.0f%% (%d/%d bytes)", p.Percent, p.Downloaded, p.Total)
		} else {
			fmt.Fprintf(cmd.ErrOrStderr(), "\rDownloading... %d bytes", p.Downloaded)
		}
		if p.Total > 0 && p.Downloaded >= p.Total {
			fmt.Fprintln(cmd.ErrOrStderr())
		}
	}
}

func printResult(cmd *cobra.Command, result *installer.Result) {
	out := cmd.OutOrStdout()

	for _, f := range result.Findings {
		marker := "\u26a0\ufe0f "
		if f.Severity == security.SeverityCritical {
			marker = "\u2717"
		}
		fmt.Fprintf(out, "  %s %s: %s (%s)\n", marker, f.Category, f.Message, f.Path)
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(out, "  \u26a0\ufe0f  %s\n", w)
	}
	if result.Validation != nil {
		for _, w := range result.Validation.Warnings {
			fmt.Fprintf(out, "  \u26a0\ufe0f  %s\n", w)
		}
	}
	if result.Merge != nil {
		for _, c := range result.Merge.Conflicts {
			fmt.Fprintf(out, "  conflict at %s: resolved %s\n", c.KeyPath, c.Resolution)
		}
	}

	if !result.Success {
		fmt.Fprintf(out, "\u2717 Installation failed (%s): %s\n", result.Code, result.Message)
		return
	}

	for _, rec := range result.Installed {
		cached := ""
		if result.FromCache {
			cached = " (from cache)"
		}
		version := rec.Version
		if version == "" {
			version = "-"
		}
		fmt.Fprintf(out, "\u2713 Installed %s %s%s\n", rec.Name, version, cached)
	}
	if result.Git != nil {
		fmt.Fprintf(out, "  revision %s: %s\n", result.Git.RevisionID, result.Git.CommitMessage)
	}
}
