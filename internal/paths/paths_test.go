package paths

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name    string
		input   string
		invalid bool
	}{
		{name: "simple file", input: "demo/example.txt"},
		{name: "nested file", input: "a/b/c/d.txt"},
		{name: "existing style name", input: "README.md"},
		{name: "empty", input: "", invalid: true},
		{name: "parent traversal", input: "../../etc/passwd", invalid: true},
		{name: "embedded traversal", input: "demo/../../etc/passwd", invalid: true},
		{name: "absolute", input: "/etc/passwd", invalid: true},
		{name: "backslash absolute", input: `\windows\system32`, invalid: true},
		{name: "drive designator", input: `C:\temp\x`, invalid: true},
		{name: "home shortcut", input: "~/secrets", invalid: true},
		{name: "shell semicolon", input: "a;rm -rf /", invalid: true},
		{name: "shell pipe", input: "a|b", invalid: true},
		{name: "shell ampersand", input: "a&b", invalid: true},
		{name: "shell backtick", input: "a`b`", invalid: true},
		{name: "shell dollar", input: "a$PATH", invalid: true},
		{name: "null byte", input: "a\x00b", invalid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Validate(root, tt.input)
			if tt.invalid {
				if !errors.Is(err, ErrInvalidPath) {
					t.Fatalf("expected ErrInvalidPath, got %v (path %q)", err, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			resolvedRoot, err := filepath.EvalSymlinks(root)
			if err != nil {
				t.Fatal(err)
			}
			if !strings.HasPrefix(got, resolvedRoot+string(filepath.Separator)) {
				t.Fatalf("resolved path %q not under root %q", got, resolvedRoot)
			}
		})
	}
}

func TestValidateSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	if _, err := Validate(root, "link/escape.txt"); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath for symlink escape, got %v", err)
	}
}

func TestValidateDoesNotTouchFilesystem(t *testing.T) {
	root := t.TempDir()

	if _, err := Validate(root, "new/dir/file.txt"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("validate created filesystem entries: %v", entries)
	}
}
