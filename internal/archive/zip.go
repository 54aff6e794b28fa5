// Package archive reads and writes the zip packages produced by the export
// command and consumed by the import command.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	l "log"
	"os"
	"path/filepath"
	"strings"
)

// Zip magic numbers: local file header, end of central directory (empty
// archive), spanning marker.
var zipSignatures = [][]byte{
	{0x50, 0x4B, 0x03, 0x04},
	{0x50, 0x4B, 0x05, 0x06},
	{0x50, 0x4B, 0x07, 0x08},
}

// Sniff reports whether the file at path is a zip archive, judged by its
// first four bytes rather than its extension.
func Sniff(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	sig := make([]byte, 4)
	if _, err := io.ReadFull(f, sig); err != nil {
		return false
	}
	for _, want := range zipSignatures {
		if bytes.Equal(sig, want) {
			return true
		}
	}
	return false
}

// Write creates a zip archive at target. Keys of entries are archive paths
// (forward slashes), values are source files or directories; directories
// are added recursively. Missing or unreadable sources are skipped with a
// warning instead of failing the archive. A pre-existing archive at target
// is overwritten.
func Write(target string, entries map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("could not create archive directory: %w", err)
	}

	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("could not create archive %s: %w", target, err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)

	for archivePath, src := range entries {
		archivePath = strings.TrimLeft(filepath.ToSlash(archivePath), "/")

		info, err := os.Stat(src)
		if err != nil {
			l.Printf("Warning: path not found, skipping: %s", src)
			continue
		}

		if info.IsDir() {
			if err := addDir(zw, src, archivePath); err != nil {
				zw.Close()
				return err
			}
			continue
		}

		if err := addFile(zw, src, archivePath); err != nil {
			l.Printf("Warning: unreadable file, skipping: %s", src)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("could not finalize archive %s: %w", target, err)
	}
	return nil
}

func addDir(zw *zip.Writer, dir, base string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			l.Printf("Warning: skipping unreadable path: %s", path)
			return nil
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		name := base + "/" + filepath.ToSlash(rel)
		if err := addFile(zw, path, name); err != nil {
			l.Printf("Warning: unreadable file, skipping: %s", path)
		}
		return nil
	})
}

func addFile(zw *zip.Writer, src, name string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

// Extract unpacks the archive into destDir. Every entry path is validated
// before anything is written: entries with NUL bytes, absolute paths or
// parent-directory segments fail the whole extraction, so a hostile
// archive cannot write outside destDir.
func Extract(archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("could not open archive %s: %w", archivePath, err)
	}
	defer r.Close()

	for _, f := range r.File {
		if !safeEntry(f.Name) {
			return fmt.Errorf("unsafe entry path detected: %q", f.Name)
		}
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("could not create destination %s: %w", destDir, err)
	}

	for _, f := range r.File {
		fpath := filepath.Join(destDir, filepath.FromSlash(f.Name))

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(fpath, 0755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(fpath), 0755); err != nil {
			return err
		}

		if err := extractFile(f, fpath); err != nil {
			return fmt.Errorf("could not extract %s: %w", f.Name, err)
		}
	}

	return nil
}

func extractFile(f *zip.File, fpath string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	mode := f.Mode()
	if mode == 0 {
		mode = 0644
	}
	out, err := os.OpenFile(fpath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

func safeEntry(name string) bool {
	if strings.ContainsRune(name, 0) {
		return false
	}
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, "\\") {
		return false
	}
	// Windows drive-letter absolute paths.
	if len(name) > 1 && name[1] == ':' {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(name), "/") {
		if part == ".." {
			return false
		}
	}
	return true
}
