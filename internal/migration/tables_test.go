package migration

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"wpmig-cli/internal/store"
	"wpmig-cli/internal/wpcli"
)

func TestResolveTablesExplicitWins(t *testing.T) {
	ctx := context.Background()
	fake := wpcli.NewFake()

	tables, err := ResolveTables(ctx, fake, "wp_", TableSelection{
		Explicit: []string{"wp_posts", "wp_postmeta"},
		Custom:   []string{"wp_ignored"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(tables) != 2 || tables[0] != "wp_posts" {
		t.Errorf("explicit selection not honored: %v", tables)
	}
	if len(fake.CallsFor("db tables")) != 0 {
		t.Errorf("explicit selection still asked the installation for tables")
	}
}

func TestResolveTablesDiscovery(t *testing.T) {
	ctx := context.Background()
	fake := wpcli.NewFake()
	fake.Script("db tables", &wpcli.Result{
		Stdout: "wp_posts\nwp_postmeta\nwp_options\nwp_users\nwp_usermeta\nwp_blogs\nwp_sitemeta\n",
	})

	tables, err := ResolveTables(ctx, fake, "wp_", TableSelection{
		Custom:    []string{"wp_custom_plugin"},
		BlogID:    1,
		Multisite: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	got := strings.Join(tables, ",")
	for _, banned := range []string{"wp_users", "wp_usermeta", "wp_blogs", "wp_sitemeta"} {
		if strings.Contains(got, banned) {
			t.Errorf("network table %s survived discovery: %v", banned, tables)
		}
	}
	for _, want := range []string{"wp_posts", "wp_postmeta", "wp_options", "wp_custom_plugin"} {
		if !strings.Contains(got, want) {
			t.Errorf("table %s missing from %v", want, tables)
		}
	}
}

func TestResolveTablesScoping(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct {
		blogID     int64
		multisite  bool
		wantScoped bool
	}{
		{1, true, false},
		{3, true, true},
		{1, false, true},
	} {
		fake := wpcli.NewFake()
		fake.Script("db tables", &wpcli.Result{Stdout: "wp_posts\n"})
		if _, err := ResolveTables(ctx, fake, "wp_", TableSelection{BlogID: tc.blogID, Multisite: tc.multisite}); err != nil {
			t.Fatal(err)
		}
		calls := fake.CallsFor("db tables")
		if len(calls) != 1 {
			t.Fatalf("expected one discovery call, got %d", len(calls))
		}
		_, scoped := calls[0].Flags["all-tables-with-prefix"]
		if scoped != tc.wantScoped {
			t.Errorf("blog %d multisite=%v: all-tables-with-prefix=%v, want %v",
				tc.blogID, tc.multisite, scoped, tc.wantScoped)
		}
	}
}

func TestResolveTablesEmptyIsFatal(t *testing.T) {
	ctx := context.Background()
	fake := wpcli.NewFake()
	fake.Script("db tables", &wpcli.Result{Stdout: "wp_users\nwp_usermeta\n"})

	if _, err := ResolveTables(ctx, fake, "wp_", TableSelection{Multisite: true}); err == nil {
		t.Fatal("empty table set did not fail")
	}
}

func TestResolveTablesNonzeroStatusIsFatal(t *testing.T) {
	ctx := context.Background()
	fake := wpcli.NewFake()
	fake.Script("db tables", &wpcli.Result{ExitCode: 1, Stderr: "no database"})

	if _, err := ResolveTables(ctx, fake, "wp_", TableSelection{}); err == nil {
		t.Fatal("nonzero tool status did not fail")
	}
}

func TestImportTables(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory("wp_")
	fake := wpcli.NewFake()

	dump := filepath.Join(t.TempDir(), "dump.sql")
	content := "CREATE TABLE `wp_posts` (id INT);\nINSERT INTO `wp_posts` VALUES (1);\n"
	if err := os.WriteFile(dump, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	err := ImportTables(ctx, st, fake, TableImportOptions{
		DumpPath:        dump,
		OldPrefix:       "wp_",
		NewPrefix:       "wp_5_",
		OldURL:          "https://old.example.com",
		NewURL:          "https://new.example.com",
		SourceBlogID:    1,
		TargetBlogID:    5,
		WrapTransaction: true,
	})
	if err != nil {
		t.Fatalf("ImportTables failed: %v", err)
	}

	rewritten, err := os.ReadFile(dump)
	if err != nil {
		t.Fatal(err)
	}
	text := string(rewritten)
	if !strings.Contains(text, "START TRANSACTION") || !strings.Contains(text, "COMMIT") {
		t.Errorf("dump was not wrapped in a transaction")
	}
	if !strings.Contains(text, "CREATE TABLE `wp_5_posts`") {
		t.Errorf("prefix rewrite missing from dump:\n%s", text)
	}

	if calls := fake.CallsFor("db import"); len(calls) != 1 || calls[0].Args[0] != dump {
		t.Errorf("db import calls = %v", calls)
	}
	sr := fake.CallsFor("search-replace")
	if len(sr) != 2 {
		t.Fatalf("expected 2 search-replace passes, got %d", len(sr))
	}
	if sr[0].Args[0] != "old.example.com" || sr[0].Args[1] != "new.example.com" {
		t.Errorf("URL pass arguments = %v", sr[0].Args)
	}
	if sr[0].Flags["skip-tables"] != "wp_blogs" {
		t.Errorf("URL pass must skip the sites table, flags = %v", sr[0].Flags)
	}
	if sr[1].Args[0] != "wp-content/uploads" || sr[1].Args[1] != "wp-content/uploads/sites/5" {
		t.Errorf("uploads pass arguments = %v", sr[1].Args)
	}
	if calls := fake.CallsFor("transient delete"); len(calls) != 1 {
		t.Errorf("transient delete calls = %v", calls)
	}

	tenant := st.WithContentPrefix("wp_5_")
	if v, ok, _ := tenant.GetOption(ctx, "home"); !ok || v != "https://new.example.com" {
		t.Errorf("home option = %q, the supplied scheme must survive", v)
	}
	if v, ok, _ := tenant.GetOption(ctx, "siteurl"); !ok || v != "https://new.example.com" {
		t.Errorf("siteurl option = %q, the supplied scheme must survive", v)
	}
}

func TestImportTablesWithoutURLsSkipsSearchReplace(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory("wp_")
	fake := wpcli.NewFake()

	dump := filepath.Join(t.TempDir(), "dump.sql")
	if err := os.WriteFile(dump, []byte("INSERT INTO `wp_posts` VALUES (1);\n"), 0644); err != nil {
		t.Fatal(err)
	}

	err := ImportTables(ctx, st, fake, TableImportOptions{
		DumpPath:     dump,
		OldPrefix:    "wp_",
		NewPrefix:    "wp_5_",
		SourceBlogID: 1,
		TargetBlogID: 5,
	})
	if err != nil {
		t.Fatalf("ImportTables failed: %v", err)
	}

	if calls := fake.CallsFor("search-replace"); len(calls) != 0 {
		t.Errorf("no URLs supplied, yet search-replace ran: %v", calls)
	}
	if _, ok, _ := st.WithContentPrefix("wp_5_").GetOption(ctx, "home"); ok {
		t.Errorf("home option written without a new URL")
	}
}

func TestImportTablesDefaultsSchemeWhenMissing(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory("wp_")

	dump := filepath.Join(t.TempDir(), "dump.sql")
	if err := os.WriteFile(dump, []byte("INSERT INTO `wp_posts` VALUES (1);\n"), 0644); err != nil {
		t.Fatal(err)
	}

	err := ImportTables(ctx, st, wpcli.NewFake(), TableImportOptions{
		DumpPath:  dump,
		OldPrefix: "wp_",
		NewPrefix: "wp_",
		OldURL:    "old.example.com",
		NewURL:    "new.example.com",
	})
	if err != nil {
		t.Fatal(err)
	}

	if v, ok, _ := st.GetOption(ctx, "home"); !ok || v != "http://new.example.com" {
		t.Errorf("home option = %q, want http default for a scheme-less address", v)
	}
}

func TestImportTablesRenamesRolesOption(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory("wp_")
	tenant := st.WithContentPrefix("wp_5_")
	if err := tenant.SetOption(ctx, "src_user_roles", "a:0:{}"); err != nil {
		t.Fatal(err)
	}

	dump := filepath.Join(t.TempDir(), "dump.sql")
	if err := os.WriteFile(dump, []byte("INSERT INTO `src_options` VALUES (1);\n"), 0644); err != nil {
		t.Fatal(err)
	}

	err := ImportTables(ctx, st, wpcli.NewFake(), TableImportOptions{
		DumpPath:     dump,
		OldPrefix:    "src_",
		NewPrefix:    "wp_5_",
		SourceBlogID: 1,
		TargetBlogID: 5,
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, ok, _ := tenant.GetOption(ctx, "src_user_roles"); ok {
		t.Errorf("old roles option key survived the import")
	}
	if v, ok, _ := tenant.GetOption(ctx, "wp_5_user_roles"); !ok || v != "a:0:{}" {
		t.Errorf("roles option not renamed byte-exact, got %q", v)
	}
}
