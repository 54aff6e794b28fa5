package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"wpmig-cli/internal/migration"
	"wpmig-cli/internal/phpval"
)

var (
	exportBlogID       int64
	exportTables       []string
	exportCustomTables []string
	exportOutput       string
	exportPlugins      bool
	exportThemes       bool
	exportUploads      bool
	exportSanitize     bool
	exportUpload       bool
	exportSuffixAdd    string
	exportSuffixTrim   string
	exportProfile      string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export parts of a WordPress site",
}

var exportAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Export a full migration package (metadata, users, tables, assets)",
	Run: func(cmd *cobra.Command, args []string) {
		applyExportProfile()

		deps, st, err := buildDeps()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()
		ctx := context.Background()

		prefix := migration.PrefixForBlog(deps.Store.BasePrefix(), exportBlogID)
		deps.Store = deps.Store.WithContentPrefix(prefix)

		meta, err := gatherSiteMeta(ctx, deps, exportBlogID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		tables, err := migration.ResolveTables(ctx, deps.Runner, deps.Store.BasePrefix(), migration.TableSelection{
			Explicit:  exportTables,
			Custom:    exportCustomTables,
			BlogID:    exportBlogID,
			Multisite: deps.Multisite,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		out := exportOutput
		if out == "" {
			site := strings.ReplaceAll(migration.NormalizeURL(meta.URL), "/", "-")
			out = site + ".zip"
		}

		err = migration.ExportPackage(ctx, deps, migration.ExportOptions{
			Meta:    meta,
			Tables:  tables,
			OutFile: out,
			UserOpts: migration.UserExportOptions{
				SuffixTrim: exportSuffixTrim,
				SuffixAdd:  exportSuffixAdd,
			},
			Sanitize:       exportSanitize,
			ContentDir:     deps.ContentDir,
			IncludePlugins: exportPlugins,
			IncludeThemes:  exportThemes,
			IncludeUploads: exportUploads,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if exportUpload {
			uploader, err := buildUploader()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			object, err := uploader.Upload(ctx, out)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Package stored as %s\n", object)
		}

		fmt.Printf("Export complete: %s\n", out)
	},
}

var exportTablesCmd = &cobra.Command{
	Use:   "tables <output.sql>",
	Short: "Export the site's database tables to a SQL file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		applyExportProfile()

		deps, st, err := buildDeps()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()
		ctx := context.Background()

		tables, err := migration.ResolveTables(ctx, deps.Runner, deps.Store.BasePrefix(), migration.TableSelection{
			Explicit:  exportTables,
			Custom:    exportCustomTables,
			BlogID:    exportBlogID,
			Multisite: deps.Multisite,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if err := migration.ExportTables(ctx, deps.Runner, args[0], tables); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Exported %d tables to %s\n", len(tables), args[0])
	},
}

var exportUsersCmd = &cobra.Command{
	Use:   "users <output.csv>",
	Short: "Export the installation's users and their meta to CSV",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		applyExportProfile()

		deps, st, err := buildDeps()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()
		ctx := context.Background()

		prefix := migration.PrefixForBlog(deps.Store.BasePrefix(), exportBlogID)
		content := deps.Store.WithContentPrefix(prefix)

		f, err := os.Create(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		n, err := migration.ExportUsers(ctx, content, f, migration.UserExportOptions{
			SuffixTrim: exportSuffixTrim,
			SuffixAdd:  exportSuffixAdd,
		})
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Exported %d users to %s\n", n, args[0])
	},
}

// gatherSiteMeta reads the packaged site description from the live
// installation.
func gatherSiteMeta(ctx context.Context, deps *migration.Deps, blogID int64) (*migration.SiteMeta, error) {
	st := deps.Store
	meta := &migration.SiteMeta{
		DBPrefix: st.ContentPrefix(),
		BlogID:   blogID,
		Plugins:  map[string]migration.PluginInfo{},
	}

	if v, ok, err := st.GetOption(ctx, "siteurl"); err != nil {
		return nil, err
	} else if ok {
		meta.URL = v
	}
	if meta.URL == "" {
		if v, ok, _ := st.GetOption(ctx, "home"); ok {
			meta.URL = v
		}
	}
	if meta.URL == "" {
		return nil, fmt.Errorf("the site has neither a siteurl nor a home option")
	}

	if v, ok, _ := st.GetOption(ctx, "blogname"); ok {
		meta.Name = v
	}
	if v, ok, _ := st.GetOption(ctx, "admin_email"); ok {
		meta.AdminEmail = v
	}
	if v, ok, _ := st.GetOption(ctx, "WPLANG"); ok {
		meta.SiteLanguage = v
	}

	if v, ok, _ := st.GetOption(ctx, "active_plugins"); ok {
		if list, err := phpval.StringList(v); err == nil {
			meta.BlogPlugins = list
		}
	}
	if v, ok, _ := st.GetOption(ctx, "active_sitewide_plugins"); ok {
		if keys, err := phpval.StringKeys(v); err == nil {
			meta.NetworkPlugins = keys
		}
	}

	if deps.ContentDir != "" {
		inventory, err := migration.ScanPlugins(filepath.Join(deps.ContentDir, "plugins"))
		if err == nil {
			meta.Plugins = inventory
		}
	}
	return meta, nil
}

// applyExportProfile backfills unset flags from the profile file.
func applyExportProfile() {
	if exportProfile == "" {
		return
	}
	p, err := migration.LoadProfile(exportProfile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(exportTables) == 0 {
		exportTables = p.Tables
	}
	if len(exportCustomTables) == 0 {
		exportCustomTables = p.CustomTables
	}
	if exportSuffixAdd == "" {
		exportSuffixAdd = p.UserSuffix
	}
	if exportSuffixTrim == "" {
		exportSuffixTrim = p.UserSuffixTrim
	}
	if !exportSanitize {
		exportSanitize = p.Sanitize
	}
	if !exportPlugins {
		exportPlugins = p.Plugins
	}
	if !exportThemes {
		exportThemes = p.Themes
	}
	if !exportUploads {
		exportUploads = p.Uploads
	}
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.AddCommand(exportAllCmd, exportTablesCmd, exportUsersCmd)

	exportCmd.PersistentFlags().Int64Var(&exportBlogID, "blog-id", 1, "Source site ID on a multisite network")
	exportCmd.PersistentFlags().StringSliceVar(&exportTables, "tables", nil, "Explicit table list, overrides auto-discovery")
	exportCmd.PersistentFlags().StringSliceVar(&exportCustomTables, "custom-tables", nil, "Extra tables added to the discovered set")
	exportCmd.PersistentFlags().StringVar(&exportSuffixAdd, "user-suffix", "", "Suffix appended to logins without an @")
	exportCmd.PersistentFlags().StringVar(&exportSuffixTrim, "user-suffix-trim", "", "Suffix removed from logins that carry it")
	exportCmd.PersistentFlags().StringVar(&exportProfile, "profile", "", "YAML migration profile with per-run options")
	exportCmd.PersistentFlags().BoolVar(&exportSanitize, "sanitize", false, "Drop license and transient option rows from the dump")

	exportAllCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Package file to write (default <site>.zip)")
	exportAllCmd.Flags().BoolVar(&exportPlugins, "plugins", false, "Include the plugins directory")
	exportAllCmd.Flags().BoolVar(&exportThemes, "themes", false, "Include the themes directory")
	exportAllCmd.Flags().BoolVar(&exportUploads, "uploads", false, "Include the uploads directory")
	exportAllCmd.Flags().BoolVar(&exportUpload, "upload", false, "Push the finished package to object storage")
}
