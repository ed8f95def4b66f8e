// Package fileops performs the local working-copy mutations behind the
// GitBridge HTTP surface. All operations take absolute paths that have
// already been validated against the repository root (see internal/paths)
// and touch only the local filesystem. Durable publication is the
// synchronizer's job.
package fileops

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/gray247/gitbridge/internal/logging"
)

var (
	// ErrNotFound indicates the target of a move or delete does not exist.
	ErrNotFound = errors.New("file not found")

	// ErrDeleteDisabled indicates the service runs in safe mode.
	ErrDeleteDisabled = errors.New("deletion disabled (safe mode)")
)

// FileInfo describes an existing file for upload verification.
type FileInfo struct {
	Size     int64
	Modified time.Time
}

// Store mutates files under a single repository root.
type Store struct {
	root     string
	safeMode bool
	exclude  []glob.Glob
	log      *logging.Logger
}

// NewStore builds a Store over root. Exclude patterns apply to Tree
// listings only, never to mutations.
func NewStore(root string, safeMode bool, exclude []string, log *logging.Logger) (*Store, error) {
	globs := make([]glob.Glob, 0, len(exclude))
	for _, pattern := range exclude {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("exclude pattern %q: %w", pattern, err)
		}
		globs = append(globs, g)
	}
	return &Store{root: root, safeMode: safeMode, exclude: globs, log: log}, nil
}

func (s *Store) Root() string {
	return s.root
}

func (s *Store) SafeMode() bool {
	return s.safeMode
}

// Write stores content at path with atomic-rename semantics: the bytes
// land in a temporary sibling first, so a crash mid-write never leaves a
// partial file visible under the final name. Overwrites are allowed.
func (s *Store) Write(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}

	s.log.Debugf("wrote %d bytes to %s", len(content), path)
	return nil
}

// Move relocates src to dst, creating dst's parent directories. A rename
// is attempted first; if the rename crosses filesystems it falls back to
// copy-then-remove.
func (s *Store) Move(src, dst string) error {
	if _, err := os.Lstat(src); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, s.Rel(src))
		}
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	err := os.Rename(src, dst)
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return s.copyRemove(src, dst)
	}
	return err
}

func (s *Store) copyRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}

	return os.Remove(src)
}

// Delete removes the file at path. It refuses in safe mode.
func (s *Store) Delete(path string) error {
	if s.safeMode {
		return ErrDeleteDisabled
	}
	if _, err := os.Lstat(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, s.Rel(path))
		}
		return err
	}
	return os.Remove(path)
}

// Stat reports size and modification time for upload verification.
func (s *Store) Stat(path string) (FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, fmt.Errorf("%w: %s", ErrNotFound, s.Rel(path))
		}
		return FileInfo{}, err
	}
	return FileInfo{Size: info.Size(), Modified: info.ModTime()}, nil
}

// Tree returns the sorted, slash-separated relative paths of all listable
// files under the root. Dot-prefixed entries (including .git) and
// configured exclude patterns are skipped.
func (s *Store) Tree() ([]string, error) {
	var files []string

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == s.root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		rel := s.Rel(path)
		for _, g := range s.exclude {
			if g.Match(rel) {
				return nil
			}
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Sort(files)
	return files, nil
}

// Rel converts an absolute path under the root back into the
// slash-separated relative form used on the wire.
func (s *Store) Rel(path string) string {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}
