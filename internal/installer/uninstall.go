package installer

import (
	"fmt"

	"github.com/extpack-labs/extpack/internal/configdoc"
)

// Uninstall removes a named extension: its record from the settings
// document (committed atomically) and then its payload directory. The
// extension type is the plural document key ("hooks", "mcps", ...).
func (i *Installer) Uninstall(extTypePlural, name string) (*Result, error) {
	lock, err := acquireLock(i.opts.ConfigPath)
	if err != nil {
		return failure(CodeIO, err.Error()), err
	}
	defer lock.release()

	doc, err := configdoc.Load(i.opts.ConfigPath)
	if err != nil {
		return failure(CodeMerge, err.Error()), err
	}

	records := doc.Records(extTypePlural)
	kept := make([]any, 0, len(records))
	found := false
	for _, item := range records {
		m, ok := item.(map[string]any)
		if ok && m["name"] == name {
			found = true
			continue
		}
		kept = append(kept, item)
	}
	if !found {
		err := fmt.Errorf("extension %s/%s is not installed", extTypePlural, name)
		return failure(CodeValidation, err.Error()), err
	}
	doc[extTypePlural] = kept

	if err := i.writer.Save(doc, i.opts.ConfigPath); err != nil {
		return failure(CodeIO, err.Error()), err
	}

	result := &Result{Success: true, Code: CodeOK}

	// The payload and version entry go after the commit; leftovers on
	// failure are warnings, not errors, since the document has already
	// dropped the record.
	if err := removePayload(i.opts.InstalledRoot, extTypePlural, name); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("removing payload: %v", err))
	}
	if err := i.dropVersion(extTypePlural, name); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("version tracking: %v", err))
	}
	return result, nil
}

func (i *Installer) dropVersion(extTypePlural, name string) error {
	versions, err := loadVersions(i.opts.ConfigPath)
	if err != nil {
		return err
	}
	for key, entry := range versions {
		if pluralType(entry.Type) == extTypePlural && entry.Name == name {
			delete(versions, key)
		}
	}
	return saveVersions(i.opts.ConfigPath, versions)
}

// List returns the installation records of one extension type, or of all
// types when extTypePlural is empty. Malformed array items are skipped.
func (i *Installer) List(extTypePlural string) (map[string][]configdoc.InstallationRecord, error) {
	doc, err := configdoc.Load(i.opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	types := configdoc.ExtensionTypes
	if extTypePlural != "" {
		types = []string{extTypePlural}
	}

	out := make(map[string][]configdoc.InstallationRecord, len(types))
	for _, t := range types {
		for _, item := range doc.Records(t) {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			rec, err := configdoc.RecordFromMap(m)
			if err != nil {
				continue
			}
			out[t] = append(out[t], rec)
		}
	}
	return out, nil
}
