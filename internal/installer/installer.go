package installer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/extpack-labs/extpack/internal/archive"
	"github.com/extpack-labs/extpack/internal/configdoc"
	"github.com/extpack-labs/extpack/internal/manifest"
	"github.com/extpack-labs/extpack/internal/merge"
	"github.com/extpack-labs/extpack/internal/security"
	"github.com/extpack-labs/extpack/internal/source"
)

// Options configures one Installer. ConfigPath is the explicit injected
// location of the host's settings document; nothing in the pipeline
// consults global state to find it.
type Options struct {
	ConfigPath    string // settings document (required)
	InstalledRoot string // payload root (required)
	CacheDir      string // download cache directory (required)

	NoCache   bool // bypass the download cache
	NoExtract bool // install the downloaded file raw, skipping extraction
	Force     bool // proceed past critical findings and invalid manifests

	MaxSizeMB      int // download size ceiling, MB (0 = default 100)
	TimeoutSeconds int // network timeout, seconds (0 = no deadline)
	Retries        int // network-error retries during acquisition

	ArrayStrategy    merge.Strategy
	ResolveConflicts bool
	Resolver         merge.Resolver

	AllowedDomains []string
	BlockedDomains []string
	BackupCount    int

	Progress source.ProgressFunc
}

// Installer runs the acquisition and configuration-merge pipeline.
type Installer struct {
	opts      Options
	acquirer  *source.Acquirer
	validator manifest.Validator
	writer    *configdoc.Writer
	extract   extractFunc
	scan      scanFunc
}

type extractFunc func(archivePath, destination string, limits archive.Limits) (*archive.ExtractedTree, []security.Finding, error)
type scanFunc func(root string) ([]security.Finding, error)

// Option overrides a collaborator, mainly for tests.
type Option func(*Installer)

// WithValidator substitutes the manifest validator.
func WithValidator(v manifest.Validator) Option {
	return func(i *Installer) { i.validator = v }
}

// WithGitClient substitutes the Git collaborator.
func WithGitClient(g source.GitClient) Option {
	return func(i *Installer) { i.acquirer = source.NewAcquirer(i.newDownloader(http.DefaultClient), g) }
}

// WithHTTPClient substitutes the HTTP client used for downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(i *Installer) { i.acquirer = source.NewAcquirer(i.newDownloader(c), source.ExecGitClient{}) }
}

// New builds an Installer from options.
func New(opts Options, overrides ...Option) *Installer {
	inst := &Installer{
		opts:      opts,
		validator: manifest.SchemaValidator{},
		writer:    &configdoc.Writer{BackupCount: opts.BackupCount},
		extract:   archive.Extract,
		scan:      security.ScanTree,
	}
	inst.acquirer = source.NewAcquirer(inst.newDownloader(http.DefaultClient), source.ExecGitClient{})
	for _, o := range overrides {
		o(inst)
	}
	return inst
}

func (i *Installer) newDownloader(client *http.Client) *source.Downloader {
	return source.NewDownloader(
		&source.Cache{Dir: i.opts.CacheDir},
		i.limits(),
		source.WithHTTPClient(client),
		source.WithProgress(i.opts.Progress),
	)
}

func (i *Installer) limits() source.Limits {
	limits := source.DefaultLimits()
	if i.opts.MaxSizeMB > 0 {
		limits.MaxDownloadBytes = int64(i.opts.MaxSizeMB) << 20
	}
	limits.AllowedDomains = i.opts.AllowedDomains
	limits.BlockedDomains = i.opts.BlockedDomains
	return limits
}

// Install runs the full pipeline for one source. The returned Result is
// always populated; the error repeats the failure for callers that only
// care whether it worked. The settings document is untouched unless the
// Result says otherwise: the atomic save is the commit point and nothing
// before it mutates the file.
func (i *Installer) Install(ctx context.Context, src source.ExtensionSource) (*Result, error) {
	lock, err := acquireLock(i.opts.ConfigPath)
	if err != nil {
		return failure(CodeIO, err.Error()), err
	}
	defer lock.release()

	result := &Result{Source: src, Code: CodeOK}

	// Stage 1: acquire. The only stage with a network deadline and the
	// only one that retries.
	artifact, findings, err := i.acquire(ctx, src)
	result.Findings = append(result.Findings, findings...)
	if err != nil {
		result.Success = false
		result.Code = CodeSource
		result.Message = err.Error()
		return result, err
	}
	defer artifact.Cleanup()
	result.FromCache = artifact.FromCache
	result.Git = artifact.Git

	// Stage 2+3: scan and materialize a package tree.
	pkgDir, cleanupPkg, err := i.materialize(artifact, result)
	if cleanupPkg != nil {
		defer cleanupPkg()
	}
	if err != nil {
		return result, err
	}

	// Policy decision point: the scanner never blocks anything itself.
	if security.HasCritical(result.Findings) && !i.opts.Force {
		result.Success = false
		result.Code = CodeSecurity
		result.Message = "critical security findings; use --force to override"
		return result, errors.New(result.Message)
	}

	// Stage 4: validate (external collaborator).
	record, err := i.validate(pkgDir, artifact, result)
	if err != nil {
		return result, err
	}

	// Stage 5: merge into the settings document.
	current, err := configdoc.Load(i.opts.ConfigPath)
	if err != nil {
		result.Success = false
		result.Code = CodeMerge
		result.Message = err.Error()
		return result, err
	}

	extTypePlural := pluralType(record.typ)
	i.noteUpgrade(current, extTypePlural, record.rec, result)

	// The payload lands on disk before the config commit; a failed
	// commit removes it again so no half-installed extension survives.
	installedPath, err := installPayload(pkgDir, i.opts.InstalledRoot, extTypePlural, record.rec.Name)
	if err != nil {
		result.Success = false
		result.Code = CodeIO
		result.Message = err.Error()
		return result, err
	}
	record.rec.Path = installedPath

	recMap, err := record.rec.ToMap()
	if err != nil {
		result.Success = false
		result.Code = CodeIO
		result.Message = err.Error()
		return result, err
	}
	incoming := map[string]any{extTypePlural: []any{recMap}}

	mergeResult, err := merge.Merge(map[string]any(current), incoming, merge.Options{
		ArrayStrategy:    i.opts.ArrayStrategy,
		ResolveConflicts: i.opts.ResolveConflicts,
		Default:          merge.KeepExisting,
		Resolver:         i.opts.Resolver,
	})
	result.Merge = mergeResult
	if err != nil {
		removePayload(i.opts.InstalledRoot, extTypePlural, record.rec.Name)
		result.Success = false
		result.Code = CodeMerge
		result.Message = err.Error()
		return result, err
	}

	// Stage 6: atomic persistence. The commit point. A failed Save never
	// modifies the settings document, so there is nothing to restore;
	// only the already-copied payload needs removing.
	if err := i.writer.Save(mergeResult.Merged, i.opts.ConfigPath); err != nil {
		removePayload(i.opts.InstalledRoot, extTypePlural, record.rec.Name)
		result.Success = false
		result.Code = CodeIO
		result.Message = err.Error()
		return result, err
	}

	// Post-commit bookkeeping. Not atomic with the rename: a crash here
	// leaves the tracking stale, which is accepted (the settings
	// document has already committed).
	if err := i.recordVersion(record, artifact); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("version tracking: %v", err))
	}

	result.Success = true
	result.Installed = append(result.Installed, record.rec)
	return result, nil
}

// acquire runs the acquisition stage with its deadline and retry policy.
// Retries apply only to network errors; truncation, validation, and
// timeout failures are final.
func (i *Installer) acquire(ctx context.Context, src source.ExtensionSource) (*source.AcquiredArtifact, []security.Finding, error) {
	if i.opts.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(i.opts.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	var (
		artifact *source.AcquiredArtifact
		findings []security.Finding
		err      error
	)
	for attempt := 0; ; attempt++ {
		artifact, findings, err = i.acquirer.Acquire(ctx, src, !i.opts.NoCache)
		if err == nil {
			return artifact, findings, nil
		}
		var srcErr *source.SourceError
		if attempt >= i.opts.Retries || !errors.As(err, &srcErr) || srcErr.Code != source.ErrNetworkError {
			return nil, findings, err
		}
	}
}

// materialize turns the artifact into a scanned package directory. For
// URL archives that means secure extraction; for Git/local sources the
// tree already exists and only the scan runs.
func (i *Installer) materialize(artifact *source.AcquiredArtifact, result *Result) (string, func(), error) {
	if artifact.Dir != "" {
		findings, err := i.scan(artifact.Dir)
		result.Findings = append(result.Findings, findings...)
		if err != nil {
			result.Success = false
			result.Code = CodeIO
			result.Message = err.Error()
			return "", nil, err
		}
		return artifact.Dir, nil, nil
	}

	if i.opts.NoExtract {
		// Raw install: stage the file alone in a fresh directory.
		stage, err := os.MkdirTemp("", "extpack-raw-")
		if err != nil {
			result.Success = false
			result.Code = CodeIO
			result.Message = err.Error()
			return "", nil, err
		}
		cleanup := func() { os.RemoveAll(stage) }
		if err := copyFile(artifact.FilePath, filepath.Join(stage, filepath.Base(artifact.FilePath))); err != nil {
			result.Success = false
			result.Code = CodeIO
			result.Message = err.Error()
			return "", cleanup, err
		}
		return stage, cleanup, nil
	}

	stageParent, err := os.MkdirTemp("", "extpack-stage-")
	if err != nil {
		result.Success = false
		result.Code = CodeIO
		result.Message = err.Error()
		return "", nil, err
	}
	cleanup := func() { os.RemoveAll(stageParent) }

	dest := filepath.Join(stageParent, "pkg")
	tree, findings, err := i.extract(artifact.FilePath, dest, archive.DefaultLimits())
	result.Findings = append(result.Findings, findings...)
	if err != nil {
		result.Success = false
		result.Code = CodeExtraction
		result.Message = err.Error()
		return "", cleanup, err
	}

	// Post-extraction content scan; the extractor only checked entry
	// metadata.
	contentFindings, err := i.scan(tree.Root)
	result.Findings = append(result.Findings, contentFindings...)
	if err != nil {
		result.Success = false
		result.Code = CodeIO
		result.Message = err.Error()
		return "", cleanup, err
	}

	return packageRoot(tree.Root), cleanup, nil
}

// packageRoot descends into a single wrapping directory, the common
// shape of archives built with `tar czf pkg.tar.gz my-extension/`.
func packageRoot(root string) string {
	entries, err := os.ReadDir(root)
	if err != nil || len(entries) != 1 || !entries[0].IsDir() {
		return root
	}
	if _, err := os.Stat(filepath.Join(root, manifest.FileName)); err == nil {
		return root
	}
	return filepath.Join(root, entries[0].Name())
}

// validated bundles the typed record with its extension type.
type validated struct {
	typ string
	rec configdoc.InstallationRecord
}

// validate runs the manifest validator and builds the installation
// record. Invalid packages abort unless forced; a forced install records
// validation_status accordingly.
func (i *Installer) validate(pkgDir string, artifact *source.AcquiredArtifact, result *Result) (*validated, error) {
	status := "valid"
	var report *manifest.Report

	if i.opts.NoExtract {
		// A raw file carries no manifest; nothing to validate.
		status = "skipped"
		report = &manifest.Report{Valid: true, Warnings: []string{"raw file install: manifest validation skipped"}}
	} else {
		var err error
		report, err = i.validator.Validate(pkgDir)
		if err != nil {
			result.Success = false
			result.Code = CodeValidation
			result.Message = err.Error()
			return nil, err
		}
	}
	result.Validation = report

	if !report.Valid {
		if !i.opts.Force {
			result.Success = false
			result.Code = CodeValidation
			result.Message = strings.Join(report.Errors, "; ")
			return nil, fmt.Errorf("manifest validation failed: %s", result.Message)
		}
		status = "forced"
	}

	rec := configdoc.InstallationRecord{
		Source:           artifact.Source.Location,
		InstalledAt:      time.Now().UTC(),
		Checksum:         artifact.Source.Checksum,
		ValidationStatus: status,
	}

	typ := manifest.TypeCommand
	if report.Metadata != nil {
		if name, ok := report.Metadata["name"].(string); ok {
			rec.Name = name
		}
		if t, ok := report.Metadata["type"].(string); ok && t != "" {
			typ = t
		}
		if v, ok := report.Metadata["version"].(string); ok {
			rec.Version = v
		}
		if d, ok := report.Metadata["description"].(string); ok {
			rec.Description = d
		}
	}
	if rec.Name == "" {
		// Forced or raw installs may lack metadata; derive a name from
		// the source.
		rec.Name = deriveName(artifact.Source.Location)
	}
	if artifact.Git != nil && rec.Version == "" {
		rec.Version = shortRevision(artifact.Git.RevisionID)
	}

	return &validated{typ: typ, rec: rec}, nil
}

// noteUpgrade reports when the incoming record replaces an existing one
// with a different version.
func (i *Installer) noteUpgrade(current configdoc.Document, extTypePlural string, rec configdoc.InstallationRecord, result *Result) {
	for _, item := range current.Records(extTypePlural) {
		m, ok := item.(map[string]any)
		if !ok || m["name"] != rec.Name {
			continue
		}
		existing, _ := m["version"].(string)
		if existing == "" || rec.Version == "" || existing == rec.Version {
			return
		}

		cv, errC := semver.NewVersion(strings.TrimPrefix(existing, "v"))
		nv, errN := semver.NewVersion(strings.TrimPrefix(rec.Version, "v"))
		switch {
		case errC != nil || errN != nil:
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: version changing from %s to %s", rec.Name, existing, rec.Version))
		case nv.GreaterThan(cv):
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: upgrading %s -> %s", rec.Name, existing, rec.Version))
		case nv.LessThan(cv):
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: downgrading %s -> %s", rec.Name, existing, rec.Version))
		}
		return
	}
}

// recordVersion updates the post-commit version-tracking file.
func (i *Installer) recordVersion(record *validated, artifact *source.AcquiredArtifact) error {
	versions, err := loadVersions(i.opts.ConfigPath)
	if err != nil {
		return err
	}

	entry := VersionEntry{
		Name:      record.rec.Name,
		Type:      record.typ,
		Version:   record.rec.Version,
		Source:    artifact.Source.Location,
		UpdatedAt: time.Now().UTC(),
	}
	if artifact.Git != nil {
		entry.Revision = artifact.Git.RevisionID
	}
	versions[versionKey(record.typ, record.rec.Name)] = entry

	return saveVersions(i.opts.ConfigPath, versions)
}

// pluralType maps a manifest type to its settings-document array key.
func pluralType(extType string) string {
	switch extType {
	case manifest.TypeHook:
		return "hooks"
	case manifest.TypeMCP:
		return "mcps"
	case manifest.TypeAgent:
		return "agents"
	case manifest.TypeCommand:
		return "commands"
	default:
		return extType + "s"
	}
}

// deriveName produces a record name from a source location when the
// manifest could not provide one.
func deriveName(location string) string {
	base := filepath.Base(strings.TrimSuffix(location, "/"))
	for _, suffix := range []string{".zip", ".tar.gz", ".tgz", ".tar.bz2", ".tbz2", ".git"} {
		base = strings.TrimSuffix(base, suffix)
	}
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "extension"
	}
	return base
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
