package system

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBackupAndRestoreFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sshd_config")
	if err := os.WriteFile(path, []byte("PermitRootLogin yes\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	backup, err := BackupFile(path)
	if err != nil {
		t.Fatalf("BackupFile: %v", err)
	}
	if !strings.HasPrefix(backup, path+".bak-") {
		t.Fatalf("backup path = %q, want %q sibling", backup, path+".bak-")
	}
	info, err := os.Stat(backup)
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("backup mode = %v, want original 0600", info.Mode().Perm())
	}

	if err := os.WriteFile(path, []byte("PermitRootLogin no\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := RestoreFile(backup, path); err != nil {
		t.Fatalf("RestoreFile: %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "PermitRootLogin yes\n" {
		t.Fatalf("restored content = %q", content)
	}
}

func TestBackupFileMissingSource(t *testing.T) {
	if _, err := BackupFile(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("backing up a missing file should fail")
	}
}

func TestWriteFileWithBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config")

	// First write: nothing to back up.
	backup, err := WriteFileWithBackup(path, []byte("v1"), 0o644)
	if err != nil {
		t.Fatalf("WriteFileWithBackup: %v", err)
	}
	if backup != "" {
		t.Fatalf("backup = %q, want empty for a new file", backup)
	}

	backup, err = WriteFileWithBackup(path, []byte("v2"), 0o644)
	if err != nil {
		t.Fatalf("WriteFileWithBackup: %v", err)
	}
	if backup == "" {
		t.Fatal("second write should back up the previous version")
	}
	old, err := os.ReadFile(backup)
	if err != nil {
		t.Fatal(err)
	}
	if string(old) != "v1" {
		t.Fatalf("backup content = %q, want v1", old)
	}
	current, _ := os.ReadFile(path)
	if string(current) != "v2" {
		t.Fatalf("file content = %q, want v2", current)
	}
}

func TestEnsureSymlinkCreatesAndReplaces(t *testing.T) {
	dir := t.TempDir()
	target1 := filepath.Join(dir, "dotfiles-v1")
	target2 := filepath.Join(dir, "dotfiles-v2")
	link := filepath.Join(dir, "home", ".dotfiles")

	if err := EnsureSymlink(target1, link); err != nil {
		t.Fatalf("EnsureSymlink: %v", err)
	}
	if got, _ := os.Readlink(link); got != target1 {
		t.Fatalf("link -> %q, want %q", got, target1)
	}

	if err := EnsureSymlink(target2, link); err != nil {
		t.Fatalf("EnsureSymlink replace: %v", err)
	}
	if got, _ := os.Readlink(link); got != target2 {
		t.Fatalf("link -> %q, want %q", got, target2)
	}
}

func TestEnsureSymlinkRefusesRegularFile(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(dir, "occupied")
	if err := os.WriteFile(link, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := EnsureSymlink(filepath.Join(dir, "target"), link); err == nil {
		t.Fatal("EnsureSymlink should refuse to replace a regular file")
	}
}

func TestRemoveSymlink(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(dir, "link")
	if err := os.Symlink(filepath.Join(dir, "target"), link); err != nil {
		t.Fatal(err)
	}

	if err := RemoveSymlink(link); err != nil {
		t.Fatalf("RemoveSymlink: %v", err)
	}
	if _, err := os.Lstat(link); !os.IsNotExist(err) {
		t.Fatal("link still exists")
	}

	// Missing link is fine; a regular file is not.
	if err := RemoveSymlink(link); err != nil {
		t.Fatalf("RemoveSymlink of missing link: %v", err)
	}
	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := RemoveSymlink(file); err == nil {
		t.Fatal("RemoveSymlink should refuse regular files")
	}
}
