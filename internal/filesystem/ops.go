// Package filesystem holds the shared file and path helpers for the staging
// area and the archive tree.
package filesystem

import (
	"fmt"
	"os"
	"strings"

	"github.com/bbilly1/tubearchivist/internal/constants"
)

// Sanitize strips characters that are invalid in folder and file names and
// trims trailing dots and spaces. Channel folder names in the archive go
// through this before any path is built.
func Sanitize(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if strings.ContainsRune(constants.InvalidPathChars, r) {
			return -1
		}
		return r
	}, s)

	return strings.TrimRight(mapped, ". ")
}

// EnsureDir creates the directory and any parents.
func EnsureDir(path string) error {
	return os.MkdirAll(path, constants.DirPermissions)
}

// MoveFile renames src to dst. The rename must be atomic, so no
// copy-then-delete fallback: staging and archive are expected to share a
// filesystem, and a cross-device move should fail loudly instead of risking
// a partial file in the archive.
func MoveFile(src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", src, dst, err)
	}
	return nil
}

// Chown applies the configured ownership to path. A uid and gid of zero
// means no correction is configured and the call is a no-op.
func Chown(path string, uid, gid int) error {
	if uid == 0 && gid == 0 {
		return nil
	}
	return os.Chown(path, uid, gid)
}

// FindByID returns the name of the first regular file in dir whose name
// contains id, or "" when none matches. Used to locate staged artifacts,
// whose names always embed the video id.
func FindByID(dir, id string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.Contains(entry.Name(), id) {
			return entry.Name(), nil
		}
	}
	return "", nil
}

// IsNotExist reports whether err is a file-not-found error.
func IsNotExist(err error) bool {
	return os.IsNotExist(err)
}
