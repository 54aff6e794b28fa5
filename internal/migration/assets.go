package migration

import (
	"context"
	"fmt"
	"io"
	l "log"
	"os"
	"path/filepath"
	"strings"

	"wpmig-cli/internal/wpcli"
)

// MoveFolder relocates a directory tree. A plain rename is tried first;
// across filesystems the tree is copied with modes and mtimes preserved
// and the source removed afterwards. Moving a tree into itself is
// refused.
func MoveFolder(src, dst string) error {
	absSrc, err := filepath.Abs(src)
	if err != nil {
		return err
	}
	absDst, err := filepath.Abs(dst)
	if err != nil {
		return err
	}
	if absDst == absSrc || strings.HasPrefix(absDst+string(os.PathSeparator), absSrc+string(os.PathSeparator)) {
		return fmt.Errorf("cannot move %s into itself", src)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	if err := copyTree(src, dst); err != nil {
		return err
	}
	return os.RemoveAll(src)
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			if err := os.MkdirAll(target, info.Mode().Perm()); err != nil {
				return err
			}
			return os.Chtimes(target, info.ModTime(), info.ModTime())
		}

		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
		return os.Chtimes(target, info.ModTime(), info.ModTime())
	})
}

// PlacePlugins moves extracted plugins into the installation and
// activates the ones the source site had active. When both active lists
// are empty everything is moved and nothing is activated. Plugins whose
// destination already exists are left alone.
func PlacePlugins(ctx context.Context, runner wpcli.Runner, srcDir, pluginsDir string, blogID int64, blogActive, networkActive []string) error {
	selective := len(blogActive) > 0 || len(networkActive) > 0
	blogKeys := activationIndex(blogActive)
	networkKeys := activationIndex(networkActive)

	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return fmt.Errorf("could not read extracted plugins %s: %w", srcDir, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		blogKey, isBlog := blogKeys[name]
		networkKey, isNetwork := networkKeys[name]
		if selective && !isBlog && !isNetwork {
			continue
		}

		dst := filepath.Join(pluginsDir, name)
		if _, err := os.Stat(dst); err == nil {
			l.Printf("plugin %s already present, skipping", name)
		} else if entry.IsDir() {
			if err := MoveFolder(filepath.Join(srcDir, name), dst); err != nil {
				l.Printf("WARNING: could not place plugin %s: %v", name, err)
				continue
			}
		} else {
			if err := os.Rename(filepath.Join(srcDir, name), dst); err != nil {
				l.Printf("WARNING: could not place plugin %s: %v", name, err)
				continue
			}
		}

		if !selective {
			continue
		}
		key := blogKey
		flags := map[string]string{}
		if isNetwork {
			key = networkKey
			flags["network"] = ""
		}
		slug := pluginSlug(key)
		if err := runStep(ctx, runner, "plugin activate", []string{slug}, flags); err != nil {
			l.Printf("WARNING: could not activate plugin %s on site %d: %v", slug, blogID, err)
		}
	}
	return nil
}

// activationIndex maps the on-disk names an active-plugin key can take
// to that key. A directory plugin ("slug/main.php") sits in a directory
// named after the slug; a single-file plugin's entry is the file itself.
func activationIndex(keys []string) map[string]string {
	idx := make(map[string]string, len(keys)*2)
	for _, key := range keys {
		idx[pluginSlug(key)] = key
		idx[key] = key
	}
	return idx
}

func pluginSlug(key string) string {
	if i := strings.Index(key, "/"); i > 0 {
		return key[:i]
	}
	return strings.TrimSuffix(key, ".php")
}

// PlaceThemes moves extracted themes into the installation and enables
// each newly placed slug. Existing themes are left alone.
func PlaceThemes(ctx context.Context, runner wpcli.Runner, srcDir, themesDir string) error {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return fmt.Errorf("could not read extracted themes %s: %w", srcDir, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		slug := entry.Name()
		dst := filepath.Join(themesDir, slug)
		if _, err := os.Stat(dst); err == nil {
			l.Printf("theme %s already present, skipping", slug)
			continue
		}
		if err := MoveFolder(filepath.Join(srcDir, slug), dst); err != nil {
			l.Printf("WARNING: could not place theme %s: %v", slug, err)
			continue
		}
		if err := runStep(ctx, runner, "theme enable", []string{slug}, nil); err != nil {
			l.Printf("WARNING: could not enable theme %s: %v", slug, err)
		}
	}
	return nil
}

// PlaceUploads moves the extracted uploads tree into the tenant's uploads
// directory under rootDir.
func PlaceUploads(srcDir, rootDir string, blogID int64) error {
	dst := filepath.Join(rootDir, filepath.FromSlash(UploadsPath(blogID)))
	l.Printf("placing uploads for site %d", blogID)
	return MoveFolder(srcDir, dst)
}
