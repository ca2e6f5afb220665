package security

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestCheckEntryRejectsTraversal(t *testing.T) {
	cases := []string{
		"../../etc/passwd",
		"..",
		"foo/../../bar",
		"/etc/passwd",
		`..\..\windows\system32`,
		`C:\windows\evil.dll`,
	}
	for _, name := range cases {
		findings := CheckEntry(Entry{Name: name, Mode: 0644})
		if len(findings) == 0 {
			t.Errorf("CheckEntry(%q) = no findings, want path-traversal", name)
			continue
		}
		if findings[0].Severity != SeverityCritical {
			t.Errorf("CheckEntry(%q) severity = %s, want critical", name, findings[0].Severity)
		}
		if findings[0].Category != CategoryPathTraversal {
			t.Errorf("CheckEntry(%q) category = %s, want path-traversal", name, findings[0].Category)
		}
	}
}

func TestCheckEntryAcceptsSafePaths(t *testing.T) {
	cases := []string{
		"manifest.yaml",
		"hooks/pre-commit.sh",
		"deep/nested/dir/file.json",
		"dir/..safe-name",
	}
	for _, name := range cases {
		if findings := CheckEntry(Entry{Name: name, Mode: 0644}); len(findings) != 0 {
			t.Errorf("CheckEntry(%q) = %v, want no findings", name, findings)
		}
	}
}

func TestCheckEntrySymlinkEscape(t *testing.T) {
	cases := []struct {
		name   string
		target string
		escape bool
	}{
		{"link", "/etc/passwd", true},
		{"dir/link", "../../outside", true},
		{"link", "../outside", true},
		{"dir/link", "../sibling", false},
		{"dir/link", "other/file.txt", false},
	}
	for _, tc := range cases {
		findings := CheckEntry(Entry{Name: tc.name, Mode: 0777 | fs.ModeSymlink, LinkTarget: tc.target})
		got := len(findings) > 0
		if got != tc.escape {
			t.Errorf("symlink %q -> %q: escape = %v, want %v", tc.name, tc.target, got, tc.escape)
		}
		if tc.escape && findings[0].Category != CategorySymlinkEscape {
			t.Errorf("symlink %q -> %q: category = %s, want symlink-escape", tc.name, tc.target, findings[0].Category)
		}
	}
}

func TestCheckEntrySetuid(t *testing.T) {
	findings := CheckEntry(Entry{Name: "bin/tool", Mode: 0755 | fs.ModeSetuid})
	if !HasCritical(findings) {
		t.Fatalf("setuid entry produced no critical finding: %v", findings)
	}
}

func TestCheckContentSignatures(t *testing.T) {
	elf := append([]byte{0x7f, 'E', 'L', 'F'}, make([]byte, 60)...)
	findings := CheckContent("payload.dat", elf)
	if len(findings) != 1 {
		t.Fatalf("ELF content: got %d findings, want 1", len(findings))
	}
	if findings[0].Severity != SeverityWarning {
		t.Errorf("content finding severity = %s, want warning", findings[0].Severity)
	}
	if findings[0].Category != CategorySuspiciousContent {
		t.Errorf("content finding category = %s, want suspicious-content", findings[0].Category)
	}
}

func TestCheckContentShebang(t *testing.T) {
	// Shebang in a .md file is suspicious; in a .sh file it is expected.
	if findings := CheckContent("README.md", []byte("#!/bin/sh\nrm -rf /\n")); len(findings) != 1 {
		t.Errorf("shebang in .md: got %d findings, want 1", len(findings))
	}
	if findings := CheckContent("hooks/run.sh", []byte("#!/bin/sh\necho ok\n")); len(findings) != 0 {
		t.Errorf("shebang in .sh: got %v, want none", findings)
	}
}

func TestScanTreeFindsEmbeddedExecutable(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "payload"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "manifest.yaml"), []byte("name: x\n"), 0644); err != nil {
		t.Fatal(err)
	}
	elf := append([]byte{0x7f, 'E', 'L', 'F'}, make([]byte, 100)...)
	if err := os.WriteFile(filepath.Join(root, "payload", "helper"), elf, 0644); err != nil {
		t.Fatal(err)
	}

	findings, err := ScanTree(root)
	if err != nil {
		t.Fatalf("ScanTree: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("got %d findings, want 1: %v", len(findings), findings)
	}
	if findings[0].Path != "payload/helper" {
		t.Errorf("finding path = %q, want payload/helper", findings[0].Path)
	}
}

func TestScanTreeFindsEscapingSymlink(t *testing.T) {
	root := t.TempDir()
	if err := os.Symlink("/etc/passwd", filepath.Join(root, "link")); err != nil {
		t.Skipf("cannot create symlink: %v", err)
	}

	findings, err := ScanTree(root)
	if err != nil {
		t.Fatalf("ScanTree: %v", err)
	}
	if !HasCritical(findings) {
		t.Fatalf("escaping symlink produced no critical finding: %v", findings)
	}
	if findings[0].Category != CategorySymlinkEscape {
		t.Errorf("category = %s, want symlink-escape", findings[0].Category)
	}
}

func TestScanTreeFindsChainedSymlinkEscape(t *testing.T) {
	// Each link passes the lexical check alone; followed on disk, the
	// second resolves through the first to the tree's parent.
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "a"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("..", filepath.Join(root, "a", "l1")); err != nil {
		t.Skipf("cannot create symlink: %v", err)
	}
	if err := os.Symlink("l1/..", filepath.Join(root, "a", "l2")); err != nil {
		t.Fatal(err)
	}

	findings, err := ScanTree(root)
	if err != nil {
		t.Fatalf("ScanTree: %v", err)
	}
	if !HasCritical(findings) {
		t.Fatalf("chained symlink escape produced no critical finding: %v", findings)
	}
	found := false
	for _, f := range findings {
		if f.Category == CategorySymlinkEscape && f.Path == "a/l2" {
			found = true
		}
	}
	if !found {
		t.Errorf("no symlink-escape finding for a/l2: %v", findings)
	}
}

func TestScanTreeAllowsInternalSymlink(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "fmt.md"), []byte("format\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("fmt.md", filepath.Join(root, "alias")); err != nil {
		t.Skipf("cannot create symlink: %v", err)
	}

	findings, err := ScanTree(root)
	if err != nil {
		t.Fatalf("ScanTree: %v", err)
	}
	if len(findings) != 0 {
		t.Errorf("internal symlink produced findings: %v", findings)
	}
}

func TestScanTreeCleanTree(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "manifest.yaml"), []byte("name: clean\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "hook.sh"), []byte("#!/bin/sh\necho hi\n"), 0755); err != nil {
		t.Fatal(err)
	}

	findings, err := ScanTree(root)
	if err != nil {
		t.Fatalf("ScanTree: %v", err)
	}
	if len(findings) != 0 {
		t.Errorf("clean tree produced findings: %v", findings)
	}
}
