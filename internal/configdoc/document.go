package configdoc

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ExtensionTypes are the well-known top-level array keys of the settings
// document. Unknown top-level keys round-trip unchanged.
var ExtensionTypes = []string{"hooks", "mcps", "agents", "commands"}

// Document is the decoded settings document: extension-type keys mapping
// to arrays of installation records, a free-form "settings" mapping, and
// any other keys the host application put there.
type Document map[string]any

// NewDocument returns the empty skeleton used when no settings file
// exists yet.
func NewDocument() Document {
	doc := Document{"settings": map[string]any{}}
	for _, key := range ExtensionTypes {
		doc[key] = []any{}
	}
	return doc
}

// Load reads the settings document at path. A missing file yields the
// empty skeleton, not an error. A file that does not contain a JSON
// object is a structural failure.
func Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading settings document %s: %w", path, err)
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing settings document %s: %w", path, err)
	}
	doc, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("settings document %s: top level is %T, not an object", path, raw)
	}
	return doc, nil
}

// Records returns the installation records under an extension-type key.
// A missing or non-array value yields nil.
func (d Document) Records(extensionType string) []any {
	arr, _ := d[extensionType].([]any)
	return arr
}

// InstallationRecord is one installed extension inside a document array.
// Name is the identity key: unique within its array after a successful
// dedupe merge.
type InstallationRecord struct {
	Name             string    `json:"name"`
	Path             string    `json:"path"`
	Description      string    `json:"description,omitempty"`
	Source           string    `json:"source"`
	InstalledAt      time.Time `json:"installed_at"`
	Version          string    `json:"version,omitempty"`
	Checksum         string    `json:"checksum,omitempty"`
	ValidationStatus string    `json:"validation_status,omitempty"`
}

// ToMap converts the record to the generic shape the merge engine works
// on, going through JSON so field names and omissions match what Load
// would produce.
func (r InstallationRecord) ToMap() (map[string]any, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshaling installation record %s: %w", r.Name, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("converting installation record %s: %w", r.Name, err)
	}
	return m, nil
}

// RecordFromMap converts a generic array item back to a typed record.
func RecordFromMap(m map[string]any) (InstallationRecord, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return InstallationRecord{}, fmt.Errorf("marshaling record map: %w", err)
	}
	var r InstallationRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return InstallationRecord{}, fmt.Errorf("parsing installation record: %w", err)
	}
	return r, nil
}
