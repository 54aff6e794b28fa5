package migration

import (
	"bufio"
	"context"
	"fmt"
	"io"
	l "log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"wpmig-cli/internal/archive"
	"wpmig-cli/internal/sqldump"
	"wpmig-cli/internal/wpcli"
)

// Tables that belong to the network, not to one tenant, and therefore
// never travel in a single-site package.
var networkTables = []string{
	"users",
	"usermeta",
	"blog_versions",
	"blogs",
	"site",
	"sitemeta",
	"registration_log",
	"signups",
	"sitecategories",
}

// TableSelection describes which tables one export run covers.
type TableSelection struct {
	// Explicit wins over auto-discovery when non-empty.
	Explicit []string
	// Custom tables are unioned into the discovered set.
	Custom []string
	// BlogID and Multisite drive discovery scoping.
	BlogID    int64
	Multisite bool
}

// ResolveTables decides the table set for an export. An explicit list is
// taken as-is; otherwise the installation is asked for its tables, the
// network-global ones are removed and custom tables are unioned in. An
// empty result is an error.
func ResolveTables(ctx context.Context, runner wpcli.Runner, basePrefix string, sel TableSelection) ([]string, error) {
	if len(sel.Explicit) > 0 {
		return sel.Explicit, nil
	}

	flags := map[string]string{"format": "csv"}
	if sel.BlogID > 1 || !sel.Multisite {
		flags["all-tables-with-prefix"] = ""
	}
	res, err := runner.Run(ctx, "db tables", nil, flags)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("db tables exited with status %d: %s", res.ExitCode, res.Stderr)
	}

	global := make(map[string]bool, len(networkTables))
	for _, t := range networkTables {
		global[basePrefix+t] = true
	}

	var tables []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(res.Stdout, "\n") {
		for _, name := range strings.Split(line, ",") {
			name = strings.TrimSpace(name)
			if name == "" || global[name] || seen[name] {
				continue
			}
			seen[name] = true
			tables = append(tables, name)
		}
	}
	for _, name := range sel.Custom {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		tables = append(tables, name)
	}

	if len(tables) == 0 {
		return nil, fmt.Errorf("no tables to export")
	}
	return tables, nil
}

// ScanPlugins reads the plugin headers of every plugin under dir, keyed
// the way WordPress keys them: "slug/main-file.php" for directory plugins
// and "file.php" for single-file ones.
func ScanPlugins(dir string) (map[string]PluginInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("could not read plugins directory %s: %w", dir, err)
	}

	inventory := make(map[string]PluginInfo)
	for _, entry := range entries {
		if !entry.IsDir() {
			if !strings.HasSuffix(entry.Name(), ".php") {
				continue
			}
			if info, ok := readPluginHeader(filepath.Join(dir, entry.Name())); ok {
				inventory[entry.Name()] = info
			}
			continue
		}
		subEntries, err := os.ReadDir(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		for _, sub := range subEntries {
			if sub.IsDir() || !strings.HasSuffix(sub.Name(), ".php") {
				continue
			}
			if info, ok := readPluginHeader(filepath.Join(dir, entry.Name(), sub.Name())); ok {
				inventory[entry.Name()+"/"+sub.Name()] = info
				break
			}
		}
	}
	return inventory, nil
}

// readPluginHeader scans the first 8KB of a PHP file for the Plugin Name
// and Version header lines.
func readPluginHeader(path string) (PluginInfo, bool) {
	f, err := os.Open(path)
	if err != nil {
		return PluginInfo{}, false
	}
	defer f.Close()

	var info PluginInfo
	scanner := bufio.NewScanner(io.LimitReader(f, 8192))
	for scanner.Scan() {
		line := strings.TrimLeft(strings.TrimSpace(scanner.Text()), "*/# ")
		if v, ok := strings.CutPrefix(line, "Plugin Name:"); ok {
			info.Name = strings.TrimSpace(v)
		} else if v, ok := strings.CutPrefix(line, "Version:"); ok {
			info.Version = strings.TrimSpace(v)
		}
	}
	return info, info.Name != ""
}

// ExportOptions drives one full package export.
type ExportOptions struct {
	Meta      *SiteMeta
	Tables    []string
	OutFile   string
	WorkDir   string
	UserOpts  UserExportOptions
	Sanitize  bool
	// ContentDir is the wp-content of the source installation; empty
	// skips the asset trees entirely.
	ContentDir     string
	IncludePlugins bool
	IncludeThemes  bool
	IncludeUploads bool
}

// ExportPackage builds the full migration package: site metadata, users
// CSV, SQL dump and optional wp-content trees, zipped into OutFile. Temp
// files are removed whether the export succeeds or fails.
func ExportPackage(ctx context.Context, deps *Deps, opts ExportOptions) error {
	workDir := opts.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	site := strings.ReplaceAll(NormalizeURL(opts.Meta.URL), "/", "-")
	base := fmt.Sprintf("wpmig-%s-%s", uuid.NewString()[:8], site)

	jsonPath := filepath.Join(workDir, base+".json")
	csvPath := filepath.Join(workDir, base+".csv")
	sqlPath := filepath.Join(workDir, base+".sql")
	defer func() {
		for _, p := range []string{jsonPath, csvPath, sqlPath} {
			os.Remove(p)
		}
	}()

	if err := opts.Meta.Save(jsonPath); err != nil {
		return err
	}

	csvFile, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("could not create users CSV: %w", err)
	}
	exported, err := ExportUsers(ctx, deps.Store, csvFile, opts.UserOpts)
	if cerr := csvFile.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	l.Printf("exported %d users", exported)

	if err := ExportTables(ctx, deps.Runner, sqlPath, opts.Tables); err != nil {
		return err
	}
	if opts.Sanitize {
		if err := sanitizeDump(sqlPath); err != nil {
			return err
		}
	}

	entries := map[string]string{
		base + ".json": jsonPath,
		base + ".csv":  csvPath,
		base + ".sql":  sqlPath,
	}
	if opts.ContentDir != "" {
		if opts.IncludePlugins {
			entries["wp-content/plugins"] = filepath.Join(opts.ContentDir, "plugins")
		}
		if opts.IncludeThemes {
			entries["wp-content/themes"] = filepath.Join(opts.ContentDir, "themes")
		}
		if opts.IncludeUploads {
			uploads := UploadsPath(opts.Meta.BlogID)
			entries["wp-content/uploads"] = filepath.Join(filepath.Dir(opts.ContentDir), uploads)
		}
	}

	if err := archive.Write(opts.OutFile, entries); err != nil {
		return err
	}
	l.Printf("wrote migration package %s", opts.OutFile)
	return nil
}

// sanitizeDump rewrites the dump in place without license and transient
// option rows.
func sanitizeDump(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Dir(path), "sanitize-*.sql")
	if err != nil {
		return err
	}
	if err := sqldump.NewSanitizer().Sanitize(in, out); err != nil {
		out.Close()
		os.Remove(out.Name())
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return err
	}
	return os.Rename(out.Name(), path)
}
