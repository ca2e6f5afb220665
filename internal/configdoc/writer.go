package configdoc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultBackupCount is how many rotating backups Save keeps by default.
const DefaultBackupCount = 3

// Writer persists documents atomically with rotating backups. It performs
// no cross-process locking; callers serialize concurrent writers to the
// same path with an advisory lock around the whole operation.
type Writer struct {
	// BackupCount bounds how many .bak.N files are kept. Zero means
	// DefaultBackupCount; negative disables backups.
	BackupCount int
}

// Save writes the document to path atomically: marshal with stable key
// ordering, write to a temp file in the same directory (so the rename
// stays on one filesystem), fsync, then rename over path. A crash or
// error before the rename leaves the original file untouched. An existing
// file is backed up once the replacement is fully staged, just before
// the rename, so an aborted Save never consumes a backup slot.
func (w *Writer) Save(doc Document, path string) error {
	// encoding/json sorts map keys, so semantically identical documents
	// serialize byte-identically.
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling settings document: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating settings directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return fmt.Errorf("creating temp settings file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp settings file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp settings file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp settings file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("setting settings file mode: %w", err)
	}

	// Rotate only once the replacement is fully staged, so a Save that
	// fails earlier leaves .bak.1 untouched and still equal to the
	// current file.
	if err := w.rotateBackups(path); err != nil {
		return fmt.Errorf("rotating backups for %s: %w", path, err)
	}

	// The commit point. Nothing after this may fail the save.
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing settings file %s: %w", path, err)
	}
	return nil
}

// Rollback restores the most recent backup of path verbatim, itself
// using the temp-then-rename discipline.
func (w *Writer) Rollback(path string) error {
	backup := backupName(path, 1)
	data, err := os.ReadFile(backup)
	if err != nil {
		return fmt.Errorf("reading backup %s: %w", backup, err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".rollback-")
	if err != nil {
		return fmt.Errorf("creating rollback temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing rollback temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing rollback temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("setting rollback file mode: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("restoring settings file %s: %w", path, err)
	}
	return nil
}

// rotateBackups shifts path.bak.N to path.bak.N+1 (dropping the oldest)
// and copies the current file to path.bak.1.
func (w *Writer) rotateBackups(path string) error {
	count := w.BackupCount
	if count == 0 {
		count = DefaultBackupCount
	}
	if count < 0 {
		return nil
	}

	current, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil // nothing to back up
	}
	if err != nil {
		return err
	}

	// Oldest dropped first.
	os.Remove(backupName(path, count))
	for i := count - 1; i >= 1; i-- {
		from := backupName(path, i)
		if _, err := os.Stat(from); err == nil {
			if err := os.Rename(from, backupName(path, i+1)); err != nil {
				return err
			}
		}
	}

	return os.WriteFile(backupName(path, 1), current, 0644)
}

func backupName(path string, n int) string {
	return fmt.Sprintf("%s.bak.%d", path, n)
}
