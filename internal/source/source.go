package source

import (
	"os"
	"regexp"
	"strings"
)

// Kind discriminates the three ways an extension package can be acquired.
type Kind string

const (
	KindLocalPath     Kind = "local"
	KindGitRepository Kind = "git"
	KindRemoteURL     Kind = "url"
)

// ExtensionSource identifies where an extension package comes from.
// Immutable once constructed.
type ExtensionSource struct {
	Kind     Kind
	Location string
	Revision string // git revision or package version, optional
	Checksum string // expected sha256 of the downloaded file, optional
}

var schemePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:`)

// ParseSource classifies a location string. Git is recognized by the
// usual URL shapes (.git suffix, git@ / git:// / ssh:// prefixes);
// anything else with a scheme is a remote URL (validation decides whether
// the scheme is acceptable); the rest are local paths.
func ParseSource(location, revision, checksum string) ExtensionSource {
	src := ExtensionSource{Location: location, Revision: revision, Checksum: checksum}

	switch {
	case strings.HasPrefix(location, "git@"),
		strings.HasPrefix(location, "git://"),
		strings.HasPrefix(location, "ssh://"),
		strings.HasSuffix(strings.TrimSuffix(location, "/"), ".git"):
		src.Kind = KindGitRepository
	case schemePattern.MatchString(location) && !isWindowsDrivePath(location):
		src.Kind = KindRemoteURL
	default:
		src.Kind = KindLocalPath
	}
	return src
}

// isWindowsDrivePath distinguishes "C:\pkg" from a URL scheme.
func isWindowsDrivePath(location string) bool {
	return len(location) >= 3 && location[1] == ':' &&
		(location[2] == '\\' || location[2] == '/')
}

// GitInfo is what the Git collaborator reports about a materialized
// clone.
type GitInfo struct {
	RevisionID    string `json:"revision_id"`
	CommitMessage string `json:"commit_message"`
	Author        string `json:"author"`
}

// AcquiredArtifact is the result of one acquisition. Exactly one of
// FilePath (a downloaded archive or raw file) and Dir (an already
// materialized tree from a Git or local source) is set. The artifact is
// owned by the caller for the duration of one installation; Cleanup
// discards its temporary files afterwards.
type AcquiredArtifact struct {
	Source      ExtensionSource
	FilePath    string
	Dir         string
	ContentType string
	Size        int64
	FromCache   bool
	Git         *GitInfo

	temps []string
}

// Cleanup removes the artifact's temporary files and directories. Cache
// entries and the user's own local source directories are never removed.
func (a *AcquiredArtifact) Cleanup() {
	for _, p := range a.temps {
		os.RemoveAll(p)
	}
	a.temps = nil
}
