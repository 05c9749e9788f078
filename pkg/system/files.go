package system

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// BackupFile copies path to a timestamped sibling (path.bak-20060102150405)
// and returns the backup path. The original file keeps its mode.
func BackupFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}

	backupPath := fmt.Sprintf("%s.bak-%s", path, time.Now().Format("20060102150405"))
	if err := copyFile(path, backupPath, info.Mode()); err != nil {
		return "", fmt.Errorf("failed to back up %s: %w", path, err)
	}
	return backupPath, nil
}

// RestoreFile copies a backup over the destination, creating parent
// directories if needed.
func RestoreFile(backupPath, destPath string) error {
	info, err := os.Stat(backupPath)
	if err != nil {
		return fmt.Errorf("backup %s missing: %w", backupPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", destPath, err)
	}
	if err := copyFile(backupPath, destPath, info.Mode()); err != nil {
		return fmt.Errorf("failed to restore %s: %w", destPath, err)
	}
	return nil
}

// WriteFileWithBackup backs up an existing file at path (if any), then
// writes content. It returns the backup path, or "" when the file is new.
func WriteFileWithBackup(path string, content []byte, mode os.FileMode) (string, error) {
	backupPath := ""
	if _, err := os.Stat(path); err == nil {
		backupPath, err = BackupFile(path)
		if err != nil {
			return "", err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, content, mode); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return backupPath, nil
}

// EnsureSymlink creates (or replaces) a symlink at link pointing to target.
func EnsureSymlink(target, link string) error {
	if err := os.MkdirAll(filepath.Dir(link), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", link, err)
	}

	if info, err := os.Lstat(link); err == nil {
		if info.Mode()&os.ModeSymlink == 0 {
			return fmt.Errorf("%s exists and is not a symlink", link)
		}
		if err := os.Remove(link); err != nil {
			return fmt.Errorf("failed to replace symlink %s: %w", link, err)
		}
	}

	if err := os.Symlink(target, link); err != nil {
		return fmt.Errorf("failed to create symlink %s -> %s: %w", link, target, err)
	}
	return nil
}

// RemoveSymlink removes a symlink, refusing to touch regular files. A
// missing link is not an error.
func RemoveSymlink(link string) error {
	info, err := os.Lstat(link)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", link, err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return fmt.Errorf("refusing to remove %s: not a symlink", link)
	}
	if err := os.Remove(link); err != nil {
		return fmt.Errorf("failed to remove symlink %s: %w", link, err)
	}
	return nil
}

// copyFile copies src to dst with the given mode.
func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
