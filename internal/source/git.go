package source

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// GitClient materializes a repository at an optional revision. It is a
// black box to the rest of the pipeline: it either yields a directory
// plus revision metadata or fails with a Git error.
type GitClient interface {
	Clone(ctx context.Context, repoURL, revision, dest string) (*GitInfo, error)
}

// ExecGitClient runs the system git binary, the same way the host's own
// tooling would.
type ExecGitClient struct{}

// Clone clones repoURL into dest and checks out revision when given.
// Clones without a revision are shallow.
func (ExecGitClient) Clone(ctx context.Context, repoURL, revision, dest string) (*GitInfo, error) {
	args := []string{"clone", "--quiet"}
	if revision == "" {
		args = append(args, "--depth", "1")
	}
	args = append(args, repoURL, dest)

	cmd := exec.CommandContext(ctx, "git", args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("git clone failed: %w\n%s", err, string(output))
	}

	if revision != "" {
		cmd = exec.CommandContext(ctx, "git", "checkout", "--quiet", revision)
		cmd.Dir = dest
		if output, err := cmd.CombinedOutput(); err != nil {
			return nil, fmt.Errorf("git checkout %s failed: %w\n%s", revision, err, string(output))
		}
	}

	return headInfo(ctx, dest)
}

// headInfo reads the revision id, subject line, and author of HEAD.
func headInfo(ctx context.Context, repoDir string) (*GitInfo, error) {
	cmd := exec.CommandContext(ctx, "git", "log", "-1", "--format=%H%n%s%n%an <%ae>")
	cmd.Dir = repoDir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("git log failed: %w\n%s", err, string(output))
	}

	lines := strings.SplitN(strings.TrimSpace(string(output)), "\n", 3)
	info := &GitInfo{RevisionID: lines[0]}
	if len(lines) > 1 {
		info.CommitMessage = lines[1]
	}
	if len(lines) > 2 {
		info.Author = lines[2]
	}
	return info, nil
}
