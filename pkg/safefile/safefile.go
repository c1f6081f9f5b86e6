// Package safefile implements the durable replace discipline shared by the
// store and the sync reconciler: back up the current file, write the new
// content atomically, restore the backup if the write fails, and drop the
// backup only after the write has fully succeeded. The file on disk is never
// left partially written or truncated.
package safefile

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/natefinch/atomic"
)

// FileMode is the permission set for vault files (owner read/write only).
const FileMode = 0o600

// BackupSuffix is appended to the target path for the transient backup copy.
const BackupSuffix = ".bak"

// Replacer performs backup-then-replace writes against a single target path.
// The zero value is not usable; construct with New.
type Replacer struct {
	// write performs the final write of content to path. Overridable so
	// tests can inject mid-write failures.
	write func(path string, data []byte) error
}

// New returns a Replacer using an atomic temp-file-and-rename write.
func New() *Replacer {
	return &Replacer{write: atomicWrite}
}

// NewWithWriter returns a Replacer with a custom final-write function.
// Intended for fault-injection tests.
func NewWithWriter(write func(path string, data []byte) error) *Replacer {
	return &Replacer{write: write}
}

func atomicWrite(path string, data []byte) error {
	return atomic.WriteFile(path, bytes.NewReader(data))
}

// Replace writes data to path under the backup-then-replace protocol.
// If the write fails, the previous content is restored and the write error
// returned; the caller must treat the triggering mutation as not committed.
func (r *Replacer) Replace(path string, data []byte) error {
	backup := path + BackupSuffix

	hadOriginal, err := copyFile(path, backup)
	if err != nil {
		return fmt.Errorf("safefile: failed to back up %s: %w", path, err)
	}

	if writeErr := r.write(path, data); writeErr != nil {
		if hadOriginal {
			if _, restoreErr := copyFile(backup, path); restoreErr != nil {
				return fmt.Errorf("safefile: write failed (%v) and restore failed: %w", writeErr, restoreErr)
			}
		}
		removeQuiet(backup)
		return fmt.Errorf("safefile: failed to write %s: %w", path, writeErr)
	}

	if err := os.Chmod(path, FileMode); err != nil {
		return fmt.Errorf("safefile: failed to set permissions on %s: %w", path, err)
	}
	removeQuiet(backup)
	return nil
}

// copyFile copies src over dst, returning whether src existed.
func copyFile(src, dst string) (bool, error) {
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, FileMode)
	if err != nil {
		return true, err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return true, err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return true, err
	}
	return true, out.Close()
}

func removeQuiet(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: failed to remove %s: %v\n", path, err)
	}
}
