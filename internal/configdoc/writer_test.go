package configdoc

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	doc := NewDocument()
	doc["hooks"] = []any{map[string]any{"name": "fmt", "path": "hooks/fmt"}}

	w := &Writer{}
	if err := w.Save(doc, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	hooks := loaded.Records("hooks")
	if len(hooks) != 1 {
		t.Fatalf("hooks = %v, want 1 record", hooks)
	}
	if hooks[0].(map[string]any)["name"] != "fmt" {
		t.Errorf("record = %v", hooks[0])
	}
}

func TestSaveIsByteStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	doc := Document{
		"zebra":    "z",
		"hooks":    []any{map[string]any{"name": "a", "path": "p"}},
		"settings": map[string]any{"theme": "dark", "auto": true},
		"alpha":    "a",
	}

	w := &Writer{BackupCount: -1}
	if err := w.Save(doc, path); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := w.Save(doc, path); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(first, second) {
		t.Errorf("repeated saves differ:\n%s\n---\n%s", first, second)
	}
}

func TestLoadMissingFileReturnsSkeleton(t *testing.T) {
	doc, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, key := range ExtensionTypes {
		arr, ok := doc[key].([]any)
		if !ok || len(arr) != 0 {
			t.Errorf("skeleton %s = %v, want empty array", key, doc[key])
		}
	}
	if _, ok := doc["settings"].(map[string]any); !ok {
		t.Error("skeleton missing settings map")
	}
}

func TestLoadRejectsNonObject(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(`["not","an","object"]`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted a non-object document")
	}
}

func TestUnknownTopLevelKeysRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	original := `{"custom_tool_state":{"nested":[1,2,3]},"hooks":[]}`
	if err := os.WriteFile(path, []byte(original), 0644); err != nil {
		t.Fatal(err)
	}

	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	w := &Writer{}
	if err := w.Save(doc, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	custom, ok := reloaded["custom_tool_state"].(map[string]any)
	if !ok {
		t.Fatalf("custom_tool_state lost: %v", reloaded)
	}
	if arr, ok := custom["nested"].([]any); !ok || len(arr) != 3 {
		t.Errorf("nested value corrupted: %v", custom)
	}
}

func TestBackupRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	w := &Writer{BackupCount: 2}

	// Four saves: the first has nothing to back up, so versions v1..v3
	// flow through the backup chain and v1 falls off the end.
	for _, version := range []string{"v1", "v2", "v3", "v4"} {
		doc := Document{"settings": map[string]any{"v": version}}
		if err := w.Save(doc, path); err != nil {
			t.Fatalf("Save %s: %v", version, err)
		}
	}

	bak1, err := os.ReadFile(path + ".bak.1")
	if err != nil {
		t.Fatalf("reading bak.1: %v", err)
	}
	if !bytes.Contains(bak1, []byte("v3")) {
		t.Errorf("bak.1 = %s, want v3 content", bak1)
	}
	bak2, err := os.ReadFile(path + ".bak.2")
	if err != nil {
		t.Fatalf("reading bak.2: %v", err)
	}
	if !bytes.Contains(bak2, []byte("v2")) {
		t.Errorf("bak.2 = %s, want v2 content", bak2)
	}
	if _, err := os.Stat(path + ".bak.3"); !os.IsNotExist(err) {
		t.Error("bak.3 exists, want at most 2 backups")
	}
}

func TestFailedSaveBurnsNoBackupSlot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	w := &Writer{BackupCount: 2}

	for _, version := range []string{"v1", "v2"} {
		doc := Document{"settings": map[string]any{"v": version}}
		if err := w.Save(doc, path); err != nil {
			t.Fatalf("Save %s: %v", version, err)
		}
	}

	// Channels are not JSON-serializable, so this Save fails before
	// anything tells the filesystem about it.
	bad := Document{"settings": make(chan int)}
	if err := w.Save(bad, path); err == nil {
		t.Fatal("Save of unserializable document succeeded")
	}

	current, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(current, []byte("v2")) {
		t.Errorf("settings file = %s, want v2 content", current)
	}
	bak1, err := os.ReadFile(path + ".bak.1")
	if err != nil {
		t.Fatalf("reading bak.1: %v", err)
	}
	if !bytes.Contains(bak1, []byte("v1")) {
		t.Errorf("bak.1 = %s, want v1 content", bak1)
	}
	if _, err := os.Stat(path + ".bak.2"); !os.IsNotExist(err) {
		t.Error("bak.2 exists after a failed save, want untouched backup chain")
	}
}

func TestRollbackRestoresMostRecentBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	w := &Writer{}

	if err := w.Save(Document{"settings": map[string]any{"v": "good"}}, path); err != nil {
		t.Fatal(err)
	}
	if err := w.Save(Document{"settings": map[string]any{"v": "bad"}}, path); err != nil {
		t.Fatal(err)
	}

	if err := w.Rollback(path); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte("good")) {
		t.Errorf("rolled-back content = %s, want the earlier version", data)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	w := &Writer{BackupCount: -1}

	if err := w.Save(NewDocument(), path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "settings.json" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory contents = %v, want only settings.json", names)
	}
}

func TestInstallationRecordToMap(t *testing.T) {
	rec := InstallationRecord{
		Name:             "fmt-hook",
		Path:             "hooks/fmt-hook",
		Source:           "https://example.com/fmt-hook.zip",
		InstalledAt:      time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Version:          "1.2.0",
		ValidationStatus: "valid",
	}

	m, err := rec.ToMap()
	if err != nil {
		t.Fatalf("ToMap: %v", err)
	}
	if m["name"] != "fmt-hook" {
		t.Errorf("name = %v", m["name"])
	}
	if _, ok := m["checksum"]; ok {
		t.Error("empty checksum should be omitted")
	}

	back, err := RecordFromMap(m)
	if err != nil {
		t.Fatalf("RecordFromMap: %v", err)
	}
	if !back.InstalledAt.Equal(rec.InstalledAt) {
		t.Errorf("installed_at = %v, want %v", back.InstalledAt, rec.InstalledAt)
	}
}
