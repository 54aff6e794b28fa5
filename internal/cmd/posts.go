package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"wpmig-cli/internal/migration"
)

var (
	postsMapFile   string
	postsUIDFields []string
	postsBlogID    int64
)

var postsCmd = &cobra.Command{
	Use:   "posts",
	Short: "Operate on the posts of one site",
}

var postsUpdateAuthorCmd = &cobra.Command{
	Use:   "update-author",
	Short: "Re-point post authorship through a user ID map",
	Run: func(cmd *cobra.Command, args []string) {
		if postsMapFile == "" {
			fmt.Fprintln(os.Stderr, "Error: --map-file is required")
			os.Exit(1)
		}

		idmap, err := migration.LoadIDMap(postsMapFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		deps, st, err := buildDeps()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()
		ctx := context.Background()

		prefix := migration.PrefixForBlog(deps.Store.BasePrefix(), postsBlogID)
		content := deps.Store.WithContentPrefix(prefix)

		uidFields := postsUIDFields
		if migration.WooCommerceActive(ctx, content, nil) {
			seen := false
			for _, f := range uidFields {
				if f == "_customer_user" {
					seen = true
				}
			}
			if !seen {
				uidFields = append(uidFields, "_customer_user")
			}
		}

		report, err := migration.RemapAuthors(ctx, content, idmap, migration.AuthorRemapOptions{
			UIDFields: uidFields,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Authors updated: %d\n", report.AuthorsUpdated)
		fmt.Printf("Meta values updated: %d\n", report.MetaUpdated)
		if len(report.NoMapping) > 0 {
			fmt.Printf("Posts without a mapping: %v\n", report.NoMapping)
		}
		if len(report.SelfMapped) > 0 {
			fmt.Printf("Posts already pointing at the right author: %v\n", report.SelfMapped)
		}
	},
}

func init() {
	rootCmd.AddCommand(postsCmd)
	postsCmd.AddCommand(postsUpdateAuthorCmd)

	postsUpdateAuthorCmd.Flags().StringVar(&postsMapFile, "map-file", "", "JSON map of old to new user IDs")
	postsUpdateAuthorCmd.Flags().StringSliceVar(&postsUIDFields, "uid-fields", nil, "Post meta keys holding user IDs to remap")
	postsUpdateAuthorCmd.Flags().Int64Var(&postsBlogID, "blog-id", 1, "Site ID on a multisite network")
}
