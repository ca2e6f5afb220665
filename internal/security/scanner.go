package security

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
)

// Entry is the format-independent metadata of a single archive entry.
// The archive extractor converts zip and tar headers into this shape so
// the same checks run for every container format.
type Entry struct {
	Name       string
	Size       int64
	Mode       fs.FileMode
	LinkTarget string // symlink target, empty for regular entries
}

// CheckEntry inspects one archive entry's metadata and returns all
// findings for it. It never reads entry content.
func CheckEntry(e Entry) []Finding {
	var findings []Finding

	findings = append(findings, checkEntryPath(e.Name)...)

	if e.LinkTarget != "" {
		findings = append(findings, checkLinkTarget(e.Name, e.LinkTarget)...)
	}

	if e.Mode&(fs.ModeSetuid|fs.ModeSetgid) != 0 {
		findings = append(findings, Finding{
			Severity: SeverityCritical,
			Category: CategorySuspiciousContent,
			Path:     e.Name,
			Message:  "entry carries setuid/setgid permission bits",
		})
	}
	if e.Mode&(fs.ModeDevice|fs.ModeCharDevice|fs.ModeNamedPipe|fs.ModeSocket) != 0 {
		findings = append(findings, Finding{
			Severity: SeverityCritical,
			Category: CategorySuspiciousContent,
			Path:     e.Name,
			Message:  "entry is a device node, pipe, or socket",
		})
	}

	return findings
}

// checkEntryPath rejects entry names that would land outside the
// extraction root: absolute paths, drive-letter prefixes, and names
// whose normalized form still begins with "..".
func checkEntryPath(name string) []Finding {
	var findings []Finding

	critical := func(msg string) {
		findings = append(findings, Finding{
			Severity: SeverityCritical,
			Category: CategoryPathTraversal,
			Path:     name,
			Message:  msg,
		})
	}

	if name == "" {
		critical("empty entry name")
		return findings
	}
	if strings.ContainsRune(name, 0) {
		critical("entry name contains a NUL byte")
		return findings
	}

	// Archive entry names use forward slashes regardless of platform.
	normalized := path.Clean(strings.ReplaceAll(name, `\`, "/"))

	if path.IsAbs(normalized) {
		critical("absolute entry path")
		return findings
	}
	if len(normalized) >= 2 && normalized[1] == ':' && isDriveLetter(normalized[0]) {
		critical("drive-letter entry path")
		return findings
	}
	if normalized == ".." || strings.HasPrefix(normalized, "../") {
		critical(fmt.Sprintf("entry escapes extraction root: normalizes to %q", normalized))
	}

	return findings
}

// checkLinkTarget rejects symlink entries whose resolved target would
// escape the extraction root. The target is resolved relative to the
// directory containing the link, then checked the same way entry names
// are.
func checkLinkTarget(name, target string) []Finding {
	escape := func() []Finding {
		return []Finding{{
			Severity: SeverityCritical,
			Category: CategorySymlinkEscape,
			Path:     name,
			Message:  fmt.Sprintf("symlink target %q escapes extraction root", target),
		}}
	}

	cleaned := path.Clean(strings.ReplaceAll(target, `\`, "/"))
	if path.IsAbs(cleaned) {
		return escape()
	}
	if len(cleaned) >= 2 && cleaned[1] == ':' && isDriveLetter(cleaned[0]) {
		return escape()
	}

	// Resolve relative to the link's own directory inside the root.
	resolved := path.Clean(path.Join(path.Dir(strings.ReplaceAll(name, `\`, "/")), cleaned))
	if resolved == ".." || strings.HasPrefix(resolved, "../") {
		return escape()
	}
	return nil
}

func isDriveLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// linkEscapesRoot resolves the symlink at p (with the given target) on
// disk and reports whether it lands outside root. The lexical check in
// checkLinkTarget cannot see a chain of individually harmless links
// composing into an escape; following the chain through the filesystem
// can. The target path is concatenated rather than joined so ".."
// segments are resolved by the filesystem walk, not cleaned away first.
func linkEscapesRoot(root, p, target string) bool {
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return false
	}

	abs := filepath.FromSlash(target)
	if !filepath.IsAbs(abs) {
		abs = filepath.Dir(p) + string(filepath.Separator) + abs
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// Dangling target: resolve as far as the deepest existing
		// directory and judge that instead.
		resolved, err = filepath.EvalSymlinks(filepath.Dir(abs))
		if err != nil {
			return false
		}
	}

	rel, err := filepath.Rel(resolvedRoot, resolved)
	if err != nil {
		return true
	}
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// contentSignatures are magic-byte prefixes of executable formats that
// have no business inside a declarative extension package.
var contentSignatures = []struct {
	prefix  []byte
	message string
}{
	{[]byte{0x7f, 'E', 'L', 'F'}, "embedded ELF executable"},
	{[]byte{'M', 'Z'}, "embedded PE/DOS executable"},
	{[]byte{0xfe, 0xed, 0xfa, 0xce}, "embedded Mach-O executable"},
	{[]byte{0xfe, 0xed, 0xfa, 0xcf}, "embedded Mach-O executable"},
	{[]byte{0xcf, 0xfa, 0xed, 0xfe}, "embedded Mach-O executable"},
	{[]byte{0xca, 0xfe, 0xba, 0xbe}, "embedded Mach-O universal binary"},
}

// scriptExtensions are file types where a shebang line is expected.
var scriptExtensions = map[string]bool{
	".sh":   true,
	".bash": true,
	".zsh":  true,
	".py":   true,
	".rb":   true,
	".pl":   true,
	".js":   true,
	".mjs":  true,
}

// CheckContent inspects the leading bytes of a file for known-dangerous
// signatures. Hits are warnings: extension payloads may legitimately ship
// helper scripts, and the orchestrator decides policy.
func CheckContent(name string, head []byte) []Finding {
	var findings []Finding

	for _, sig := range contentSignatures {
		if bytes.HasPrefix(head, sig.prefix) {
			findings = append(findings, Finding{
				Severity: SeverityWarning,
				Category: CategorySuspiciousContent,
				Path:     name,
				Message:  sig.message,
			})
			break
		}
	}

	if bytes.HasPrefix(head, []byte("#!")) && !scriptExtensions[strings.ToLower(filepath.Ext(name))] {
		findings = append(findings, Finding{
			Severity: SeverityWarning,
			Category: CategorySuspiciousContent,
			Path:     name,
			Message:  "shebang in a file that is not a known script type",
		})
	}

	return findings
}

// contentHeadSize is how many leading bytes of a file the content scan reads.
const contentHeadSize = 512

// ScanTree walks a materialized directory (a local or Git source, or an
// extracted archive) and returns all findings. Files are scanned in
// parallel; the walk itself and the findings slice are serialized. The
// scan is deterministic: findings are sorted by path before returning.
func ScanTree(root string) ([]Finding, error) {
	type job struct {
		path string // absolute
		rel  string
	}

	jobs := make(chan job)
	var (
		mu       sync.Mutex
		findings []Finding
		wg       sync.WaitGroup
	)

	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			head := make([]byte, contentHeadSize)
			for j := range jobs {
				n, err := readHead(j.path, head)
				if err != nil {
					continue // unreadable files are the walk error's problem
				}
				found := CheckContent(j.rel, head[:n])
				if len(found) > 0 {
					mu.Lock()
					findings = append(findings, found...)
					mu.Unlock()
				}
			}
		}()
	}

	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			target, readErr := os.Readlink(p)
			if readErr != nil {
				return readErr
			}
			found := checkLinkTarget(filepath.ToSlash(rel), target)
			if len(found) == 0 && linkEscapesRoot(root, p, target) {
				found = []Finding{{
					Severity: SeverityCritical,
					Category: CategorySymlinkEscape,
					Path:     filepath.ToSlash(rel),
					Message:  fmt.Sprintf("symlink target %q resolves outside the scanned tree", target),
				}}
			}
			if len(found) > 0 {
				mu.Lock()
				findings = append(findings, found...)
				mu.Unlock()
			}
			return nil
		}
		if !d.Type().IsRegular() {
			if d.IsDir() {
				return nil
			}
			mu.Lock()
			findings = append(findings, Finding{
				Severity: SeverityCritical,
				Category: CategorySuspiciousContent,
				Path:     filepath.ToSlash(rel),
				Message:  "irregular file (device, pipe, or socket)",
			})
			mu.Unlock()
			return nil
		}

		if info, infoErr := d.Info(); infoErr == nil {
			if info.Mode()&(fs.ModeSetuid|fs.ModeSetgid) != 0 {
				mu.Lock()
				findings = append(findings, Finding{
					Severity: SeverityCritical,
					Category: CategorySuspiciousContent,
					Path:     filepath.ToSlash(rel),
					Message:  "file carries setuid/setgid permission bits",
				})
				mu.Unlock()
			}
		}

		jobs <- job{path: p, rel: filepath.ToSlash(rel)}
		return nil
	})

	close(jobs)
	wg.Wait()

	if walkErr != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, walkErr)
	}

	sortFindings(findings)
	return findings, nil
}

func readHead(p string, buf []byte) (int, error) {
	f, err := os.Open(p)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return 0, nil // empty file
	}
	return n, nil
}

func sortFindings(findings []Finding) {
	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Path != findings[j].Path {
			return findings[i].Path < findings[j].Path
		}
		return findings[i].Category < findings[j].Category
	})
}
