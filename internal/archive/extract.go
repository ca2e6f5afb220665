package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/extpack-labs/extpack/internal/security"
)

// Limits bounds how much an archive may expand during extraction.
type Limits struct {
	MaxEntries    int   // maximum number of entries
	MaxTotalBytes int64 // cumulative decompressed size ceiling
	MaxEntryBytes int64 // single-entry decompressed size ceiling
}

// DefaultLimits are generous for extension packages, which are small by
// nature, while still stopping decompression bombs early.
func DefaultLimits() Limits {
	return Limits{
		MaxEntries:    10000,
		MaxTotalBytes: 500 << 20, // 500 MB
		MaxEntryBytes: 100 << 20, // 100 MB
	}
}

// ExtractedTree describes a successfully extracted archive.
type ExtractedTree struct {
	Root       string // equals the destination passed to Extract
	Entries    int
	TotalBytes int64
}

// Extract unpacks the archive at archivePath into destination.
//
// Entries are unpacked into a staging directory next to destination; only
// when every entry passes every check is the staging directory renamed
// into place. On any rejection the staging directory is discarded and
// destination is left untouched. The returned findings are complete even
// when extraction aborts: after the first rejection the remaining entries
// are still walked (metadata only, nothing written) so callers see every
// violation, not just the first.
func Extract(archivePath, destination string, limits Limits) (*ExtractedTree, []security.Finding, error) {
	format, err := DetectFormat(archivePath)
	if err != nil {
		return nil, nil, err
	}

	reader, err := openReader(archivePath, format)
	if err != nil {
		return nil, nil, err
	}
	defer reader.Close()

	parent := filepath.Dir(filepath.Clean(destination))
	if err := os.MkdirAll(parent, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating destination parent: %w", err)
	}
	staging, err := os.MkdirTemp(parent, ".extract-")
	if err != nil {
		return nil, nil, fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	// All writes go through the staging root handle, which resolves
	// symlinks on disk. Entry-name checks are lexical and cannot see a
	// chain of individually harmless links composing into an escape;
	// the root handle can, and refuses it.
	root, err := os.OpenRoot(staging)
	if err != nil {
		return nil, nil, fmt.Errorf("opening staging directory: %w", err)
	}
	defer root.Close()

	var (
		findings   []security.Finding
		abort      *ExtractionError
		entryCount int
		totalBytes int64
	)

	reject := func(e *ExtractionError) {
		if abort == nil {
			abort = e
		}
	}
	closeContent := func(r io.Reader) {
		if c, ok := r.(io.Closer); ok {
			c.Close()
		}
	}

	for {
		entry, content, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A corrupt stream ends the walk; nothing more to inspect.
			extractErr, ok := err.(*ExtractionError)
			if !ok {
				extractErr = extractionErr(ErrCorruptArchive, archivePath, err)
			}
			reject(extractErr)
			break
		}

		entryCount++
		if abort != nil {
			closeContent(content)
			content = nil // metadata-only walk after the first rejection
		}
		if limits.MaxEntries > 0 && entryCount > limits.MaxEntries {
			findings = append(findings, security.Finding{
				Severity: security.SeverityCritical,
				Category: security.CategoryOversizedEntry,
				Path:     entry.Name,
				Message:  fmt.Sprintf("archive exceeds entry ceiling of %d", limits.MaxEntries),
			})
			reject(extractionErr(ErrArchiveBomb, entry.Name, nil))
			closeContent(content)
			continue
		}

		entryFindings := security.CheckEntry(entry)
		findings = append(findings, entryFindings...)
		if security.HasCritical(entryFindings) {
			code := ErrPathTraversal
			for _, f := range entryFindings {
				if f.Category == security.CategorySuspiciousContent {
					code = ErrCorruptArchive
				}
			}
			reject(extractionErr(code, entry.Name, nil))
			closeContent(content)
			continue
		}

		if limits.MaxEntryBytes > 0 && entry.Size > limits.MaxEntryBytes {
			findings = append(findings, security.Finding{
				Severity: security.SeverityCritical,
				Category: security.CategoryOversizedEntry,
				Path:     entry.Name,
				Message:  fmt.Sprintf("entry declares %d bytes, ceiling is %d", entry.Size, limits.MaxEntryBytes),
			})
			reject(extractionErr(ErrArchiveBomb, entry.Name, nil))
			closeContent(content)
			continue
		}

		if abort != nil {
			continue
		}

		written, err := writeEntry(root, entry, content, limits, totalBytes)
		closeContent(content)
		totalBytes += written
		if err != nil {
			if escapesRoot(err) {
				findings = append(findings, security.Finding{
					Severity: security.SeverityCritical,
					Category: security.CategorySymlinkEscape,
					Path:     entry.Name,
					Message:  "entry path resolves through symlinks to outside the extraction root",
				})
				reject(extractionErr(ErrPathTraversal, entry.Name, nil))
				continue
			}
			extractErr, ok := err.(*ExtractionError)
			if !ok {
				return nil, findings, fmt.Errorf("writing entry %s: %w", entry.Name, err)
			}
			if extractErr.Code == ErrArchiveBomb {
				findings = append(findings, security.Finding{
					Severity: security.SeverityCritical,
					Category: security.CategoryOversizedEntry,
					Path:     entry.Name,
					Message:  fmt.Sprintf("decompressed size exceeds ceiling of %d bytes", limits.MaxTotalBytes),
				})
			}
			reject(extractErr)
		}
	}

	if abort != nil {
		return nil, findings, abort
	}

	root.Close()
	if err := commitStaging(staging, destination); err != nil {
		return nil, findings, fmt.Errorf("moving extracted tree into place: %w", err)
	}

	return &ExtractedTree{Root: destination, Entries: entryCount, TotalBytes: totalBytes}, findings, nil
}

// writeEntry materializes one validated entry inside the staging root and
// returns the number of content bytes written. Every path operation goes
// through the root handle so a symlink chain cannot redirect the write
// outside staging.
func writeEntry(root *os.Root, entry security.Entry, content io.Reader, limits Limits, alreadyWritten int64) (int64, error) {
	rel := filepath.FromSlash(strings.TrimSuffix(strings.ReplaceAll(entry.Name, `\`, "/"), "/"))

	if entry.Mode.IsDir() {
		return 0, root.MkdirAll(rel, dirPerm(entry.Mode))
	}

	if parent := filepath.Dir(rel); parent != "." {
		if err := root.MkdirAll(parent, 0755); err != nil {
			return 0, err
		}
	}

	if entry.Mode&fs.ModeSymlink != 0 {
		return 0, root.Symlink(entry.LinkTarget, rel)
	}

	if content == nil {
		// Hardlinks and other validated non-regular entries carry no
		// content; materialize them as empty files.
		content = strings.NewReader("")
	}

	out, err := root.OpenFile(rel, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm(entry.Mode))
	if err != nil {
		return 0, err
	}
	defer out.Close()

	// Copy with a running counter so a lying header cannot smuggle more
	// bytes than the cumulative ceiling allows.
	var written int64
	buf := make([]byte, 32*1024)
	for {
		n, readErr := content.Read(buf)
		if n > 0 {
			if limits.MaxTotalBytes > 0 && alreadyWritten+written+int64(n) > limits.MaxTotalBytes {
				return written, extractionErr(ErrArchiveBomb, entry.Name, nil)
			}
			if limits.MaxEntryBytes > 0 && written+int64(n) > limits.MaxEntryBytes {
				return written, extractionErr(ErrArchiveBomb, entry.Name, nil)
			}
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return written, writeErr
			}
			written += int64(n)
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, extractionErr(ErrCorruptArchive, entry.Name, readErr)
		}
	}
}

// commitStaging renames the fully populated staging directory to the
// destination. An existing empty destination directory is replaced.
func commitStaging(staging, destination string) error {
	if entries, err := os.ReadDir(destination); err == nil && len(entries) == 0 {
		if err := os.Remove(destination); err != nil {
			return err
		}
	}
	return os.Rename(staging, destination)
}

// escapesRoot reports whether a write failed because its path resolved,
// through symlinks already materialized in staging, to a location outside
// the staging root.
func escapesRoot(err error) bool {
	var pathErr *fs.PathError
	return errors.As(err, &pathErr) && strings.Contains(pathErr.Err.Error(), "escapes from parent")
}

func filePerm(mode fs.FileMode) fs.FileMode {
	perm := mode.Perm()
	if perm == 0 {
		perm = 0644
	}
	return perm
}

func dirPerm(mode fs.FileMode) fs.FileMode {
	perm := mode.Perm()
	if perm == 0 {
		perm = 0755
	}
	return perm
}
