// Package paths validates and resolves in-archive destination paths,
// including the symbolic ".dist-info/" prefix that stands in for the
// wheel's actual dist-info directory.
package paths

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// DistInfoMarker is the reserved prefix a destination path may use to mean
// "the wheel's dist-info directory", whatever its concrete name is.
const DistInfoMarker = ".dist-info/"

var (
	// ErrTraversal indicates a path that escapes the archive or output root.
	ErrTraversal = errors.New("path escapes archive root")

	// ErrDistInfo indicates that the dist-info marker cannot be resolved:
	// the archive has zero or multiple top-level dist-info directories.
	ErrDistInfo = errors.New("cannot resolve dist-info directory")
)

// Normalize converts platform separators to forward slashes, collapses
// repeated separators, and strips any leading slash.
func Normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return strings.TrimLeft(p, "/")
}

// ValidateSafe rejects paths that are absolute, contain a parent-directory
// segment, or clean to a location outside the archive root. It is a pure
// check: it never rewrites the path.
func ValidateSafe(p string) error {
	if p == "" {
		return fmt.Errorf("%w: empty path", ErrTraversal)
	}
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, "\\") || filepath.IsAbs(p) {
		return fmt.Errorf("%w: absolute path %q", ErrTraversal, p)
	}

	normalized := Normalize(p)
	for _, seg := range strings.Split(normalized, "/") {
		if seg == ".." {
			return fmt.Errorf("%w: parent traversal in %q", ErrTraversal, p)
		}
	}

	cleaned := path.Clean(normalized)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("%w: %q", ErrTraversal, p)
	}
	return nil
}

// DistInfoDir scans archive entry names for the single top-level directory
// ending in ".dist-info". Wheels that vendor other packages can carry nested
// dist-info directories; only direct children of the archive root count.
func DistInfoDir(names []string) (string, error) {
	seen := make(map[string]bool)
	var candidates []string

	for _, name := range names {
		parts := strings.Split(name, "/")
		if len(parts) < 2 {
			continue
		}
		if strings.HasSuffix(parts[0], ".dist-info") && !seen[parts[0]] {
			seen[parts[0]] = true
			candidates = append(candidates, parts[0])
		}
	}

	switch len(candidates) {
	case 0:
		return "", fmt.Errorf("%w: no .dist-info directory found", ErrDistInfo)
	case 1:
		return candidates[0], nil
	default:
		return "", fmt.Errorf("%w: multiple candidates %v", ErrDistInfo, candidates)
	}
}

// ResolveDistInfo replaces a leading DistInfoMarker in dest with the
// archive's actual dist-info directory name, leaving the rest of the path
// unchanged. Paths without the marker pass through untouched.
func ResolveDistInfo(dest string, names []string) (string, error) {
	if !strings.HasPrefix(dest, DistInfoMarker) {
		return dest, nil
	}
	dir, err := DistInfoDir(names)
	if err != nil {
		return "", err
	}
	return dir + "/" + strings.TrimPrefix(dest, DistInfoMarker), nil
}

// IsWithinDir reports whether full stays inside dir once both are resolved.
// Used by extraction as a second line of defense against crafted entries.
func IsWithinDir(dir, full string) bool {
	rel, err := filepath.Rel(dir, full)
	if err != nil {
		return false
	}
	return rel != ".." &&
		!strings.HasPrefix(rel, ".."+string(filepath.Separator)) &&
		!filepath.IsAbs(rel)
}
