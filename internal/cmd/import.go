package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"wpmig-cli/internal/migration"
)

var (
	importNewURL    string
	importMapFile   string
	importUIDFields []string
	importSingleTxn bool
	importBlogID    int64
	importOldPrefix string
	importOldURL    string
	importSrcBlogID int64
	importProfile   string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a migration package or parts of one",
}

var importAllCmd = &cobra.Command{
	Use:   "all <package.zip>",
	Short: "Import a full migration package",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		applyImportProfile()

		deps, st, err := buildDeps()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		mapFile := importMapFile
		if mapFile == "" {
			mapFile = args[0] + ".map.json"
		}

		err = migration.ImportPackage(context.Background(), deps, migration.ImportOptions{
			PackagePath:     args[0],
			NewURL:          importNewURL,
			MapFile:         mapFile,
			UIDFields:       importUIDFields,
			WrapTransaction: importSingleTxn,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Import complete!")
	},
}

var importTablesCmd = &cobra.Command{
	Use:   "tables <dump.sql>",
	Short: "Restore a SQL dump into the target tenant",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		applyImportProfile()

		deps, st, err := buildDeps()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()
		ctx := context.Background()

		newPrefix := migration.PrefixForBlog(deps.Store.BasePrefix(), importBlogID)
		oldPrefix := importOldPrefix
		if oldPrefix == "" {
			oldPrefix = newPrefix
		}

		err = migration.ImportTables(ctx, deps.Store, deps.Runner, migration.TableImportOptions{
			DumpPath:        args[0],
			OldPrefix:       oldPrefix,
			NewPrefix:       newPrefix,
			OldURL:          importOldURL,
			NewURL:          importNewURL,
			SourceBlogID:    importSrcBlogID,
			TargetBlogID:    importBlogID,
			WrapTransaction: importSingleTxn,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Tables imported.")
	},
}

var importUsersCmd = &cobra.Command{
	Use:   "users <users.csv>",
	Short: "Reconcile exported users against this installation",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		applyImportProfile()

		deps, st, err := buildDeps()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()
		ctx := context.Background()

		f, err := os.Open(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()

		prefix := migration.PrefixForBlog(deps.Store.BasePrefix(), importBlogID)
		content := deps.Store.WithContentPrefix(prefix)

		idmap, stats, err := migration.ImportUsers(ctx, content, f, migration.UserImportOptions{
			BlogID:    importBlogID,
			Multisite: deps.Multisite,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if len(idmap) > 0 {
			mapFile := userMapPath(importMapFile)
			if err := idmap.Save(mapFile); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("ID map written to %s\n", mapFile)
		}
		fmt.Printf("Users imported: %d created, %d reused, %d skipped\n", stats.Created, stats.Existing, stats.Skipped)
	},
}

// userMapPath resolves where a users import writes its ID map. Without
// an explicit flag the map still lands in the working directory so a
// later posts update-author can pick it up.
func userMapPath(flag string) string {
	if flag != "" {
		return flag
	}
	return "ids_maps.json"
}

// applyImportProfile backfills unset flags from the profile file.
func applyImportProfile() {
	if importProfile == "" {
		return
	}
	p, err := migration.LoadProfile(importProfile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if importNewURL == "" {
		importNewURL = p.NewURL
	}
	if importMapFile == "" {
		importMapFile = p.MapFile
	}
	if len(importUIDFields) == 0 {
		importUIDFields = p.UIDFields
	}
	if !importSingleTxn {
		importSingleTxn = p.SingleTransaction
	}
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.AddCommand(importAllCmd, importTablesCmd, importUsersCmd)

	importCmd.PersistentFlags().StringVar(&importNewURL, "new-url", "", "Address the imported site should answer at")
	importCmd.PersistentFlags().StringVar(&importMapFile, "map-file", "", "Where to write or read the old-to-new user ID map (users import defaults to ids_maps.json)")
	importCmd.PersistentFlags().BoolVar(&importSingleTxn, "mysql-single-transaction", false, "Wrap the dump in a single transaction before the restore")
	importCmd.PersistentFlags().StringVar(&importProfile, "profile", "", "YAML migration profile with per-run options")

	importAllCmd.Flags().StringSliceVar(&importUIDFields, "uid-fields", nil, "Post meta keys holding user IDs to remap")

	importTablesCmd.Flags().Int64Var(&importBlogID, "blog-id", 1, "Target site ID on a multisite network")
	importTablesCmd.Flags().StringVar(&importOldPrefix, "old-prefix", "", "Table prefix the dump was written with")
	importTablesCmd.Flags().StringVar(&importOldURL, "old-url", "", "Address of the source site, for search-replace")
	importTablesCmd.Flags().Int64Var(&importSrcBlogID, "source-blog-id", 1, "Site ID the dump came from")

	importUsersCmd.Flags().Int64Var(&importBlogID, "blog-id", 1, "Target site ID on a multisite network")
}
