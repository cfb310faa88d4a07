// Package validation checks names and paths that come from the gateway
// before they touch the local filesystem.
package validation

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateFilename rejects names that could escape the directory they are
// joined to: empty names, "." and "..", path separators of either style and
// NUL bytes. Names like "data..v2.csv" are fine.
func ValidateFilename(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("filename cannot be empty")
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("filename contains null byte: %q", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("filename cannot contain path separators: %s", name)
	case name == "." || name == "..":
		return fmt.Errorf("filename cannot be %q", name)
	}
	return nil
}

// ValidatePathInDirectory checks that path, resolved against baseDir when
// relative, stays inside baseDir.
func ValidatePathInDirectory(path, baseDir string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if baseDir == "" {
		return fmt.Errorf("base directory cannot be empty")
	}

	base, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %w", err)
	}
	resolved := filepath.Clean(path)
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(base, resolved)
	}

	rel, err := filepath.Rel(base, resolved)
	if err != nil {
		return fmt.Errorf("failed to compute relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path escapes base directory: %s (base: %s)", path, baseDir)
	}
	return nil
}
