package installer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const versionsFileName = "versions.json"

// VersionEntry tracks what is installed, independent of the settings
// document, so upgrades can be detected and reported.
type VersionEntry struct {
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Version   string    `json:"version"`
	Revision  string    `json:"revision,omitempty"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

// loadVersions reads the version-tracking file from the directory holding
// the settings document. Returns an empty map if the file does not exist.
func loadVersions(configPath string) (map[string]VersionEntry, error) {
	path := filepath.Join(filepath.Dir(configPath), versionsFileName)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]VersionEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading version tracking: %w", err)
	}

	var versions map[string]VersionEntry
	if err := json.Unmarshal(data, &versions); err != nil {
		return nil, fmt.Errorf("parsing version tracking: %w", err)
	}
	return versions, nil
}

// saveVersions writes the version-tracking file. This runs after the
// settings document's atomic rename; a crash in between leaves the
// tracking stale, which is an accepted at-least-once gap — the settings
// document, the source of truth, has already committed.
func saveVersions(configPath string, versions map[string]VersionEntry) error {
	data, err := json.MarshalIndent(versions, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling version tracking: %w", err)
	}

	path := filepath.Join(filepath.Dir(configPath), versionsFileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing version tracking: %w", err)
	}
	return nil
}

// versionKey identifies one installed extension in the tracking map.
func versionKey(extType, name string) string {
	return extType + "/" + name
}
