// Package paths validates caller-supplied repository paths. Every path
// accepted by the HTTP surface passes through Validate before it is used
// for any filesystem operation.
package paths

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidPath is returned for any rejected input. Callers only need
// to distinguish valid from invalid; the wrapped message carries the
// specific reason for logs.
var ErrInvalidPath = errors.New("invalid path")

// dangerous substrings rejected outright. Parent segments and home
// expansion cover traversal; the rest cover shell metacharacter
// injection if a path ever reaches a subprocess.
var dangerous = []string{"..", "~", "$", "`", "|", ";", "&", "\x00"}

// Validate resolves raw against root and returns the absolute path of
// the target, or ErrInvalidPath if raw is empty, absolute, contains a
// dangerous pattern, or escapes root (including via symlinks). It never
// mutates the filesystem.
func Validate(root, raw string) (string, error) {
	if raw == "" {
		return "", invalid("path cannot be empty")
	}

	for _, pattern := range dangerous {
		if strings.Contains(raw, pattern) {
			return "", invalid("path contains dangerous pattern %q", pattern)
		}
	}

	if strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "\\") || hasDriveDesignator(raw) {
		return "", invalid("absolute paths not allowed")
	}

	resolvedRoot, err := resolveExisting(root)
	if err != nil {
		return "", invalid("resolve root: %v", err)
	}

	full := filepath.Join(resolvedRoot, filepath.FromSlash(raw))

	// The target may not exist yet (uploads create it), so resolve
	// symlinks through the nearest existing ancestor.
	resolved, err := resolveExisting(full)
	if err != nil {
		return "", invalid("resolve path: %v", err)
	}

	rel, err := filepath.Rel(resolvedRoot, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", invalid("path outside repository boundaries")
	}

	return full, nil
}

func hasDriveDesignator(s string) bool {
	return len(s) > 1 && s[1] == ':'
}

// resolveExisting evaluates symlinks on the longest existing prefix of
// path and rejoins the non-existing remainder.
func resolveExisting(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	existing := abs
	var rest []string
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		} else if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		rest = append([]string{filepath.Base(existing)}, rest...)
		existing = parent
	}

	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}

	return filepath.Join(append([]string{resolved}, rest...)...), nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPath, fmt.Sprintf(format, args...))
}
