package migration

import (
	"context"
	"fmt"
	l "log"
	"strings"

	"wpmig-cli/internal/sqldump"
	"wpmig-cli/internal/store"
	"wpmig-cli/internal/wpcli"
)

// TableImportOptions drives one dump restore.
type TableImportOptions struct {
	DumpPath string

	// OldPrefix is the prefix the dump was written with, NewPrefix the
	// one the target tenant uses. Equal values skip the rewrite.
	OldPrefix string
	NewPrefix string

	// OldURL and NewURL trigger the search-replace passes when both are
	// set.
	OldURL string
	NewURL string

	// SourceBlogID and TargetBlogID scope the uploads path rewrite on
	// multisite networks.
	SourceBlogID int64
	TargetBlogID int64

	// WrapTransaction wraps the dump in a single transaction before the
	// restore.
	WrapTransaction bool
}

// UploadsPath is the tenant-scoped uploads directory relative to the
// installation root.
func UploadsPath(blogID int64) string {
	if blogID > 1 {
		return fmt.Sprintf("wp-content/uploads/sites/%d", blogID)
	}
	return "wp-content/uploads"
}

// ImportTables restores a SQL dump into the target tenant: optional
// transaction wrap, prefix rewrite, restore through the external tool,
// URL and uploads-path search-replace, and the option fixups the new
// prefix and address require.
func ImportTables(ctx context.Context, st store.Store, runner wpcli.Runner, opts TableImportOptions) error {
	if opts.WrapTransaction {
		if err := sqldump.WrapInTransaction(opts.DumpPath); err != nil {
			return err
		}
	}

	if opts.NewPrefix != "" && opts.NewPrefix != opts.OldPrefix {
		l.Printf("rewriting table prefix %s to %s", opts.OldPrefix, opts.NewPrefix)
		if err := sqldump.RewritePrefix(opts.DumpPath, opts.OldPrefix, opts.NewPrefix); err != nil {
			return err
		}
	}

	l.Printf("importing database dump %s", opts.DumpPath)
	if err := runStep(ctx, runner, "db import", []string{opts.DumpPath}, nil); err != nil {
		return err
	}

	// Both search-replace passes run only when the caller supplied the
	// address change; a prefix-only restore leaves content untouched.
	oldURL := NormalizeURL(opts.OldURL)
	newURL := NormalizeURL(opts.NewURL)
	if oldURL != "" && newURL != "" {
		if oldURL != newURL {
			l.Printf("replacing %s with %s", oldURL, newURL)
			err := runStep(ctx, runner, "search-replace", []string{oldURL, newURL}, map[string]string{
				"skip-tables": st.BasePrefix() + "blogs",
			})
			if err != nil {
				return err
			}
		}

		oldUploads := UploadsPath(opts.SourceBlogID)
		newUploads := UploadsPath(opts.TargetBlogID)
		if oldUploads != newUploads {
			l.Printf("replacing uploads path %s with %s", oldUploads, newUploads)
			if err := runStep(ctx, runner, "search-replace", []string{oldUploads, newUploads}, nil); err != nil {
				return err
			}
		}
	}

	content := st.WithContentPrefix(opts.NewPrefix)
	if opts.NewPrefix != "" && opts.NewPrefix != opts.OldPrefix {
		oldKey := opts.OldPrefix + "user_roles"
		newKey := opts.NewPrefix + "user_roles"
		if err := content.RenameOption(ctx, oldKey, newKey); err != nil {
			return err
		}
	}

	if opts.NewURL != "" {
		// The supplied address is written as-is so an https site stays
		// https; a scheme is only defaulted when none was given.
		address := opts.NewURL
		if !strings.Contains(address, "://") {
			address = "http://" + address
		}
		if err := content.SetOption(ctx, "home", address); err != nil {
			return err
		}
		if err := content.SetOption(ctx, "siteurl", address); err != nil {
			return err
		}
	}

	// Stale transients carry source-site state (caches, update checks)
	// that has no business on the target.
	if err := runStep(ctx, runner, "transient delete", nil, map[string]string{"all": ""}); err != nil {
		l.Printf("WARNING: could not delete transients: %v", err)
	}
	return nil
}

// runStep runs one external command and converts a nonzero exit into an
// error carrying the tool's stderr.
func runStep(ctx context.Context, runner wpcli.Runner, command string, args []string, flags map[string]string) error {
	res, err := runner.Run(ctx, command, args, flags)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%s exited with status %d: %s", command, res.ExitCode, res.Stderr)
	}
	return nil
}

// ExportTables dumps the given tables to path through the external tool.
func ExportTables(ctx context.Context, runner wpcli.Runner, path string, tables []string) error {
	flags := map[string]string{}
	if len(tables) > 0 {
		flags["tables"] = strings.Join(tables, ",")
	}
	l.Printf("exporting %d tables to %s", len(tables), path)
	return runStep(ctx, runner, "db export", []string{path}, flags)
}
