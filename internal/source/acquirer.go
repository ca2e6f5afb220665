package source

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/extpack-labs/extpack/internal/security"
)

// Acquirer dispatches acquisition across the three source kinds and
// returns one artifact shape for all of them.
type Acquirer struct {
	downloader *Downloader
	git        GitClient
}

// NewAcquirer wires a downloader and a Git collaborator.
func NewAcquirer(downloader *Downloader, git GitClient) *Acquirer {
	return &Acquirer{downloader: downloader, git: git}
}

// Acquire fetches the source. URL sources go through the download cache
// unless useCache is false; Git and local sources are materialized
// directories and ignore the flag.
func (a *Acquirer) Acquire(ctx context.Context, src ExtensionSource, useCache bool) (*AcquiredArtifact, []security.Finding, error) {
	switch src.Kind {
	case KindRemoteURL:
		return a.downloader.Download(ctx, src, useCache)
	case KindGitRepository:
		artifact, err := a.acquireGit(ctx, src)
		return artifact, nil, err
	case KindLocalPath:
		artifact, err := acquireLocal(src)
		return artifact, nil, err
	default:
		return nil, nil, sourceErr(ErrInvalidURL, src.Location, fmt.Errorf("unknown source kind %q", src.Kind))
	}
}

// acquireGit clones into a temp directory owned by the artifact.
func (a *Acquirer) acquireGit(ctx context.Context, src ExtensionSource) (*AcquiredArtifact, error) {
	dest, err := os.MkdirTemp("", "extpack-clone-")
	if err != nil {
		return nil, fmt.Errorf("creating clone directory: %w", err)
	}

	info, err := a.git.Clone(ctx, src.Location, src.Revision, dest)
	if err != nil {
		os.RemoveAll(dest)
		return nil, classifyTransportErr(src.Location, err)
	}

	return &AcquiredArtifact{
		Source: src,
		Dir:    dest,
		Git:    info,
		temps:  []string{dest},
	}, nil
}

// acquireLocal wraps an existing path. Directories are used in place;
// single files (typically archives) are used in place too — the artifact
// never owns the user's files.
func acquireLocal(src ExtensionSource) (*AcquiredArtifact, error) {
	info, err := os.Stat(src.Location)
	if err != nil {
		return nil, sourceErr(ErrInvalidURL, src.Location, err)
	}

	artifact := &AcquiredArtifact{Source: src, Size: info.Size()}
	if info.IsDir() {
		artifact.Dir = src.Location
	} else {
		artifact.FilePath = src.Location
		if src.Checksum != "" {
			if err := verifyChecksum(src.Location, src.Checksum); err != nil {
				return nil, err
			}
		}
	}
	return artifact, nil
}

func nowUTC() time.Time { return time.Now().UTC() }
