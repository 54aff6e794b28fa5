package migration

import (
	"context"
	"errors"
	"testing"

	"wpmig-cli/internal/store"
)

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://Example.COM/blog/", "example.com/blog"},
		{"example.com", "example.com"},
		{"http://example.com:8080/a//b///c/", "example.com:8080/a/b/c"},
		{"EXAMPLE.com/", "example.com"},
		{"https://[2001:db8::1]:8443/site", "[2001:db8::1]:8443/site"},
		{"", ""},
		{"http://", ""},
	}
	for _, c := range cases {
		if got := NormalizeURL(c.in); got != c.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestPrefixForBlog(t *testing.T) {
	if got := PrefixForBlog("wp_", 1); got != "wp_" {
		t.Errorf("main site prefix = %q, want wp_", got)
	}
	if got := PrefixForBlog("wp_", 0); got != "wp_" {
		t.Errorf("zero blog prefix = %q, want wp_", got)
	}
	if got := PrefixForBlog("wp_", 7); got != "wp_7_" {
		t.Errorf("tenant prefix = %q, want wp_7_", got)
	}
}

func TestCreateSiteExistingDomainReturnsZero(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory("wp_")
	st.SeedBlog(2, "old.example.com", "/")

	id, err := CreateSite(ctx, st, &SiteMeta{URL: "https://old.example.com/"})
	if err != nil {
		t.Fatalf("CreateSite returned error: %v", err)
	}
	if id != 0 {
		t.Errorf("CreateSite on existing domain = %d, want 0", id)
	}

	id, err = CreateSite(ctx, st, &SiteMeta{URL: "https://new.example.com/"})
	if err != nil {
		t.Fatalf("CreateSite returned error: %v", err)
	}
	if id == 0 {
		t.Errorf("CreateSite on fresh domain returned 0")
	}
}

const rolesOption = `a:1:{s:13:"administrator";a:2:{s:4:"name";s:13:"Administrator";s:12:"capabilities";a:2:{s:8:"level_10";b:1;s:14:"manage_options";b:1;}}}`

func TestGrantRole(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory("wp_")
	st.SeedBlog(3, "site.example.com", "/")
	uid := st.AddUser(store.User{Login: "alice"})

	tenant := st.WithContentPrefix("wp_3_")
	if err := tenant.SetOption(ctx, "wp_3_user_roles", rolesOption); err != nil {
		t.Fatal(err)
	}

	if err := GrantRole(ctx, st, 3, uid, "administrator"); err != nil {
		t.Fatalf("GrantRole failed: %v", err)
	}

	caps, ok, err := st.GetUserMeta(ctx, uid, "wp_3_capabilities")
	if err != nil || !ok {
		t.Fatalf("capabilities meta missing: %v", err)
	}
	if caps == "" {
		t.Fatal("capabilities meta is empty")
	}
	level, ok, _ := st.GetUserMeta(ctx, uid, "wp_3_user_level")
	if !ok || level != "10" {
		t.Errorf("user_level = %q, want 10", level)
	}
	primary, ok, _ := st.GetUserMeta(ctx, uid, "primary_blog")
	if !ok || primary != "3" {
		t.Errorf("primary_blog = %q, want 3", primary)
	}
	domain, ok, _ := st.GetUserMeta(ctx, uid, "source_domain")
	if !ok || domain != "site.example.com" {
		t.Errorf("source_domain = %q, want site.example.com", domain)
	}

	// A second grant on another site must not move the primary blog.
	st.SeedBlog(4, "other.example.com", "/")
	other := st.WithContentPrefix("wp_4_")
	if err := other.SetOption(ctx, "wp_4_user_roles", rolesOption); err != nil {
		t.Fatal(err)
	}
	if err := GrantRole(ctx, st, 4, uid, "administrator"); err != nil {
		t.Fatalf("second GrantRole failed: %v", err)
	}
	primary, _, _ = st.GetUserMeta(ctx, uid, "primary_blog")
	if primary != "3" {
		t.Errorf("primary_blog moved to %q after second grant", primary)
	}
}

func TestGrantRoleTypedErrors(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory("wp_")
	st.SeedBlog(3, "site.example.com", "/")
	uid := st.AddUser(store.User{Login: "alice"})

	if err := GrantRole(ctx, st, 3, 999, "administrator"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("missing user: got %v, want ErrUserNotFound", err)
	}
	if err := GrantRole(ctx, st, 9, uid, "administrator"); !errors.Is(err, ErrSiteNotFound) {
		t.Errorf("missing site: got %v, want ErrSiteNotFound", err)
	}

	tenant := st.WithContentPrefix("wp_3_")
	if err := tenant.SetOption(ctx, "wp_3_user_roles", rolesOption); err != nil {
		t.Fatal(err)
	}
	if err := GrantRole(ctx, st, 3, uid, "editor"); !errors.Is(err, ErrRoleNotFound) {
		t.Errorf("missing role: got %v, want ErrRoleNotFound", err)
	}
}
