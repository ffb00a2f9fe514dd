package patcher

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mcdonaldj/whlpatch/internal/paths"
)

// MaxDecompressSize caps the uncompressed size of any single extracted
// entry (10GB) to block decompression bombs.
const MaxDecompressSize = 10 * 1024 * 1024 * 1024

// EntryInfo describes one archive member for display.
type EntryInfo struct {
	Path           string
	Size           uint64
	CompressedSize uint64
}

// List returns every entry of the wheel in archive order. Read-only; the
// archive is opened and released within the call.
func List(wheelPath string) ([]EntryInfo, error) {
	zr, err := zip.OpenReader(wheelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotWheel, wheelPath, err)
	}
	defer func() { _ = zr.Close() }()

	entries := make([]EntryInfo, 0, len(zr.File))
	for _, f := range zr.File {
		entries = append(entries, EntryInfo{
			Path:           f.Name,
			Size:           f.UncompressedSize64,
			CompressedSize: f.CompressedSize64,
		})
	}
	return entries, nil
}

// Extract writes every entry's decompressed bytes under outputDir,
// recreating the directory structure. Every entry path goes through the
// same safety validation as patch destinations: a crafted wheel cannot
// write outside outputDir.
func Extract(wheelPath, outputDir string) error {
	zr, err := zip.OpenReader(wheelPath)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotWheel, wheelPath, err)
	}
	defer func() { _ = zr.Close() }()

	absOut, err := filepath.Abs(outputDir)
	if err != nil {
		return fmt.Errorf("resolving output dir: %w", err)
	}
	if err := os.MkdirAll(absOut, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	for _, f := range zr.File {
		if f.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("symlink entries not supported: %s", f.Name)
		}
		if err := paths.ValidateSafe(f.Name); err != nil {
			return fmt.Errorf("entry %s: %w", f.Name, err)
		}

		target := filepath.Join(absOut, filepath.FromSlash(f.Name))
		if !paths.IsWithinDir(absOut, target) {
			return fmt.Errorf("%w: %s", paths.ErrTraversal, f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("creating directory %s: %w", target, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("creating parent directory for %s: %w", target, err)
		}
		if err := extractFile(f, target); err != nil {
			return fmt.Errorf("extracting %s: %w", f.Name, err)
		}
	}

	return nil
}

func extractFile(f *zip.File, target string) error {
	declared := f.UncompressedSize64
	if declared > MaxDecompressSize {
		return fmt.Errorf("entry too large: %d bytes exceeds limit of %d", declared, uint64(MaxDecompressSize))
	}

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	// One extra byte so a stream longer than declared is detectable.
	written, err := io.Copy(out, io.LimitReader(rc, int64(declared)+1))
	if err != nil {
		return err
	}
	if written > int64(declared) {
		return fmt.Errorf("decompressed size exceeds declared size")
	}
	return nil
}

// IsValidWheel reports whether path names a readable wheel: a .whl file
// that opens as a zip archive and contains a dist-info directory.
func IsValidWheel(path string) bool {
	if filepath.Ext(path) != ".whl" {
		return false
	}
	zr, err := zip.OpenReader(path)
	if err != nil {
		return false
	}
	defer func() { _ = zr.Close() }()

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	_, err = paths.DistInfoDir(names)
	return err == nil
}
