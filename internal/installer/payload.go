package installer

import (
	"fmt"
	"os"
	"path/filepath"
)

// excludedNames are files/directories excluded when a payload is copied
// into the installed root.
var excludedNames = map[string]bool{
	".git":      true,
	".DS_Store": true,
}

// installPayload copies the validated package tree to its final location
// under the installed root, replacing any previous installation of the
// same extension.
func installPayload(srcDir, installedRoot, extTypePlural, name string) (string, error) {
	dst := filepath.Join(installedRoot, extTypePlural, name)

	if _, err := os.Stat(dst); err == nil {
		if err := os.RemoveAll(dst); err != nil {
			return "", fmt.Errorf("removing existing installation at %s: %w", dst, err)
		}
	}

	if err := copyDir(srcDir, dst); err != nil {
		return "", fmt.Errorf("copying %s to %s: %w", srcDir, dst, err)
	}
	return dst, nil
}

// removePayload deletes an installed extension's directory.
func removePayload(installedRoot, extTypePlural, name string) error {
	dir := filepath.Join(installedRoot, extTypePlural, name)

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil // nothing on disk; record-only installation
	}
	if err != nil {
		return fmt.Errorf("checking %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing %s: %w", dir, err)
	}
	return nil
}

// copyDir recursively copies src to dst, excluding entries in
// excludedNames. Symlinks inside the package survived the security scan,
// so they are recreated as-is.
func copyDir(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dst, srcInfo.Mode().Perm()); err != nil {
		return err
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if excludedNames[entry.Name()] {
			continue
		}

		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		switch {
		case entry.IsDir():
			if err := copyDir(srcPath, dstPath); err != nil {
				return err
			}
		case entry.Type()&os.ModeSymlink != 0:
			target, err := os.Readlink(srcPath)
			if err != nil {
				return err
			}
			if err := os.Symlink(target, dstPath); err != nil {
				return err
			}
		case entry.Type().IsRegular():
			if err := copyFile(srcPath, dstPath); err != nil {
				return err
			}
		}
	}

	return nil
}

// copyFile copies a single file from src to dst, preserving permissions.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}

	return os.WriteFile(dst, data, srcInfo.Mode().Perm())
}
