package migration

import (
	"context"
	"fmt"
	l "log"
	"os"
	"path/filepath"

	"wpmig-cli/internal/archive"
	"wpmig-cli/internal/store"
	"wpmig-cli/internal/wpcli"
)

// Deps bundles the capabilities every pipeline stage draws on.
type Deps struct {
	Store  store.Store
	Runner wpcli.Runner
	// ContentDir is the target installation's wp-content directory.
	ContentDir string
	Multisite  bool
}

// ImportOptions drives one full package import.
type ImportOptions struct {
	PackagePath string
	// NewURL overrides the packaged site address.
	NewURL string
	// MapFile is where the old-to-new user ID map is written.
	MapFile string
	// UIDFields are extra post meta keys remapped along with authorship.
	UIDFields       []string
	WrapTransaction bool
}

// packageFiles locates the three required entries of an extracted
// package.
func packageFiles(dir string) (jsonPath, csvPath, sqlPath string, err error) {
	find := func(pattern string) (string, error) {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return "", err
		}
		if len(matches) != 1 {
			return "", fmt.Errorf("package must contain exactly one %s file, found %d", pattern, len(matches))
		}
		return matches[0], nil
	}
	if jsonPath, err = find("*.json"); err != nil {
		return
	}
	if csvPath, err = find("*.csv"); err != nil {
		return
	}
	sqlPath, err = find("*.sql")
	return
}

// ImportPackage runs the whole inbound pipeline: extraction, site
// provisioning, table restore, asset placement, user reconciliation and
// authorship remap. Completed steps stay applied when a later step
// fails.
func ImportPackage(ctx context.Context, deps *Deps, opts ImportOptions) error {
	if !archive.Sniff(opts.PackagePath) {
		return fmt.Errorf("%s is not a zip package", opts.PackagePath)
	}

	workDir, err := os.MkdirTemp("", "wpmig-import-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(workDir)

	if err := archive.Extract(opts.PackagePath, workDir); err != nil {
		return err
	}
	jsonPath, csvPath, sqlPath, err := packageFiles(workDir)
	if err != nil {
		return err
	}
	meta, err := LoadSiteMeta(jsonPath)
	if err != nil {
		return err
	}

	newURL := meta.URL
	if opts.NewURL != "" {
		newURL = opts.NewURL
	}

	targetBlogID := int64(1)
	if deps.Multisite {
		targetBlogID, err = CreateSite(ctx, deps.Store, &SiteMeta{URL: newURL, Name: meta.Name})
		if err != nil {
			return err
		}
		if targetBlogID == 0 {
			return fmt.Errorf("a site already answers at %s, refusing to import over it", NormalizeURL(newURL))
		}
	}
	newPrefix := PrefixForBlog(deps.Store.BasePrefix(), targetBlogID)

	err = ImportTables(ctx, deps.Store, deps.Runner, TableImportOptions{
		DumpPath:        sqlPath,
		OldPrefix:       meta.DBPrefix,
		NewPrefix:       newPrefix,
		OldURL:          meta.URL,
		NewURL:          newURL,
		SourceBlogID:    meta.BlogID,
		TargetBlogID:    targetBlogID,
		WrapTransaction: opts.WrapTransaction,
	})
	if err != nil {
		return err
	}

	if err := placeAssets(ctx, deps, workDir, meta, targetBlogID); err != nil {
		return err
	}

	csvFile, err := os.Open(csvPath)
	if err != nil {
		return err
	}
	content := deps.Store.WithContentPrefix(newPrefix)
	idmap, _, err := ImportUsers(ctx, content, csvFile, UserImportOptions{
		BlogID:    targetBlogID,
		Multisite: deps.Multisite,
	})
	csvFile.Close()
	if err != nil {
		return err
	}

	if len(idmap) > 0 && opts.MapFile != "" {
		if err := idmap.Save(opts.MapFile); err != nil {
			return err
		}
	}

	if len(idmap) > 0 {
		uidFields := opts.UIDFields
		if WooCommerceActive(ctx, content, meta.NetworkPlugins) {
			uidFields = appendUnique(uidFields, "_customer_user")
		}
		if _, err := RemapAuthors(ctx, content, idmap, AuthorRemapOptions{UIDFields: uidFields}); err != nil {
			return err
		}
	}

	l.Printf("import of %s finished", opts.PackagePath)
	return nil
}

func placeAssets(ctx context.Context, deps *Deps, workDir string, meta *SiteMeta, targetBlogID int64) error {
	if deps.ContentDir == "" {
		return nil
	}

	plugins := filepath.Join(workDir, "wp-content", "plugins")
	if _, err := os.Stat(plugins); err == nil {
		err := PlacePlugins(ctx, deps.Runner, plugins, filepath.Join(deps.ContentDir, "plugins"),
			targetBlogID, meta.BlogPlugins, meta.NetworkPlugins)
		if err != nil {
			return err
		}
	}

	themes := filepath.Join(workDir, "wp-content", "themes")
	if _, err := os.Stat(themes); err == nil {
		if err := PlaceThemes(ctx, deps.Runner, themes, filepath.Join(deps.ContentDir, "themes")); err != nil {
			return err
		}
	}

	uploads := filepath.Join(workDir, "wp-content", "uploads")
	if _, err := os.Stat(uploads); err == nil {
		if err := PlaceUploads(uploads, filepath.Dir(deps.ContentDir), targetBlogID); err != nil {
			return err
		}
	}
	return nil
}

func appendUnique(list []string, item string) []string {
	for _, v := range list {
		if v == item {
			return list
		}
	}
	return append(list, item)
}
