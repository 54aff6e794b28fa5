package migration

import (
	"bytes"
	"context"
	"encoding/csv"
	l "log"
	"os"
	"strings"
	"testing"

	"wpmig-cli/internal/store"
)

func seedSourceUsers(t *testing.T) *store.Memory {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory("wp_")

	alice := st.AddUser(store.User{
		Login:       "alice",
		Pass:        "$P$alicehash",
		NiceName:    "alice",
		Email:       "alice@example.com",
		Registered:  "2020-01-01 00:00:00",
		DisplayName: "Alice A",
	})
	bob := st.AddUser(store.User{
		Login:       "bob",
		Pass:        "$P$bobhash",
		NiceName:    "bob",
		Email:       "bob@example.com",
		Registered:  "2021-06-15 12:00:00",
		DisplayName: "Bob B",
	})

	mustSetMeta := func(id int64, key, value string) {
		if err := st.SetUserMeta(ctx, id, key, value); err != nil {
			t.Fatal(err)
		}
	}
	mustSetMeta(alice, "first_name", "Alice")
	mustSetMeta(alice, "nickname", "al")
	mustSetMeta(alice, "wp_capabilities", `a:1:{s:6:"editor";b:1;}`)
	mustSetMeta(alice, "twitter_handle", "@alice")
	mustSetMeta(bob, "first_name", "Bob")
	mustSetMeta(bob, "session_tokens", "a:1:{}")
	mustSetMeta(bob, "wp_user_level", "7")
	return st
}

func TestExportUsersSchema(t *testing.T) {
	ctx := context.Background()
	st := seedSourceUsers(t)

	var buf bytes.Buffer
	n, err := ExportUsers(ctx, st, &buf, UserExportOptions{})
	if err != nil {
		t.Fatalf("ExportUsers failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("exported %d users, want 2", n)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("export is not valid CSV: %v", err)
	}
	header := records[0]

	for i, want := range userHeaders {
		if header[i] != want {
			t.Fatalf("header[%d] = %q, want %q", i, header[i], want)
		}
	}
	col := func(name string) int {
		for i, h := range header {
			if h == name {
				return i
			}
		}
		t.Fatalf("header is missing %q", name)
		return -1
	}

	if records[1][col("role")] != "editor" {
		t.Errorf("alice's role = %q, want editor", records[1][col("role")])
	}
	if records[1][col("twitter_handle")] != "@alice" {
		t.Errorf("discovered meta column not carried")
	}
	for _, rec := range records[1:] {
		if len(rec) != len(header) {
			t.Errorf("row has %d fields, header has %d", len(rec), len(header))
		}
	}

	// Excluded keys never become columns.
	for _, h := range header {
		if h == "session_tokens" || h == "wp_capabilities" || h == "wp_user_level" {
			t.Errorf("excluded meta key %q leaked into the header", h)
		}
	}
}

func TestUserRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := seedSourceUsers(t)

	var buf bytes.Buffer
	if _, err := ExportUsers(ctx, src, &buf, UserExportOptions{}); err != nil {
		t.Fatal(err)
	}

	dst := store.NewMemory("wp_")
	idmap, stats, err := ImportUsers(ctx, dst, bytes.NewReader(buf.Bytes()), UserImportOptions{})
	if err != nil {
		t.Fatalf("ImportUsers failed: %v", err)
	}
	if stats.Created != 2 || stats.Existing != 0 || stats.Skipped != 0 {
		t.Fatalf("first import stats = %+v, want 2 created", *stats)
	}
	if len(idmap) != 2 {
		t.Fatalf("idmap has %d entries, want 2", len(idmap))
	}

	id, err := dst.FindUserByLoginOrEmail(ctx, "alice", "")
	if err != nil || id == 0 {
		t.Fatalf("alice not found after import: %v", err)
	}
	users, _ := dst.Users(ctx)
	for _, u := range users {
		if u.Login == "alice" && u.Pass != "$P$alicehash" {
			t.Errorf("alice's password hash = %q, want the exported hash", u.Pass)
		}
	}
	if v, ok, _ := dst.GetUserMeta(ctx, id, "twitter_handle"); !ok || v != "@alice" {
		t.Errorf("alice's discovered meta = %q, want @alice", v)
	}

	// Second import of the same file must reuse every account.
	idmap2, stats2, err := ImportUsers(ctx, dst, bytes.NewReader(buf.Bytes()), UserImportOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if stats2.Created != 0 || stats2.Existing != 2 {
		t.Fatalf("re-import stats = %+v, want 2 reused", *stats2)
	}
	for old, newID := range idmap {
		if idmap2[old] != newID {
			t.Errorf("re-import mapped %d to %d, first run said %d", old, idmap2[old], newID)
		}
	}
	if users, _ := dst.Users(ctx); len(users) != 2 {
		t.Errorf("re-import grew the user table to %d rows", len(users))
	}
}

func TestImportUsersSkipsRaggedRows(t *testing.T) {
	ctx := context.Background()
	dst := store.NewMemory("wp_")

	csvText := strings.Join([]string{
		"ID,user_login,user_email",
		"1,alice,alice@example.com",
		"2,bob",
		"3,carol,carol@example.com",
	}, "\n")

	idmap, stats, err := ImportUsers(ctx, dst, strings.NewReader(csvText), UserImportOptions{})
	if err != nil {
		t.Fatalf("ImportUsers failed: %v", err)
	}
	if stats.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", stats.Skipped)
	}
	if stats.Created != 2 {
		t.Errorf("created = %d, want 2", stats.Created)
	}
	if _, ok := idmap[2]; ok {
		t.Errorf("ragged row still landed in the ID map")
	}
	if _, ok := idmap[1]; !ok {
		t.Errorf("row before the ragged one was lost")
	}
	if _, ok := idmap[3]; !ok {
		t.Errorf("row after the ragged one was lost")
	}
}

func TestImportUsersAppliesRoleOnSingleSite(t *testing.T) {
	ctx := context.Background()
	dst := store.NewMemory("wp_")
	if err := dst.SetOption(ctx, "wp_user_roles", rolesOption); err != nil {
		t.Fatal(err)
	}

	csvText := strings.Join([]string{
		"ID,user_login,user_email,role",
		"1,dana,dana@example.com,administrator",
	}, "\n")

	_, stats, err := ImportUsers(ctx, dst, strings.NewReader(csvText), UserImportOptions{})
	if err != nil {
		t.Fatalf("ImportUsers failed: %v", err)
	}
	if stats.Created != 1 {
		t.Fatalf("created = %d, want 1", stats.Created)
	}

	id, err := dst.FindUserByLoginOrEmail(ctx, "dana", "")
	if err != nil || id == 0 {
		t.Fatalf("dana not found after import: %v", err)
	}
	caps, ok, _ := dst.GetUserMeta(ctx, id, "wp_capabilities")
	if !ok || !strings.Contains(caps, "administrator") {
		t.Errorf("capabilities = %q, want the CSV role applied", caps)
	}
	if level, ok, _ := dst.GetUserMeta(ctx, id, "wp_user_level"); !ok || level != "10" {
		t.Errorf("user level = %q, want 10", level)
	}
}

func TestExportUsersSuffixes(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory("wp_")
	st.AddUser(store.User{Login: "jdoe@legacy"})
	st.AddUser(store.User{Login: "asmith"})

	var buf bytes.Buffer
	if _, err := ExportUsers(ctx, st, &buf, UserExportOptions{SuffixTrim: "@legacy"}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if strings.Contains(out, "jdoe@legacy") || !strings.Contains(out, "jdoe") {
		t.Errorf("suffix trim did not apply: %s", out)
	}

	buf.Reset()
	if _, err := ExportUsers(ctx, st, &buf, UserExportOptions{SuffixAdd: "@new"}); err != nil {
		t.Fatal(err)
	}
	out = buf.String()
	if !strings.Contains(out, "asmith@new") {
		t.Errorf("suffix add did not apply: %s", out)
	}
	if !strings.Contains(out, "jdoe@legacy") || strings.Contains(out, "jdoe@legacy@new") {
		t.Errorf("suffix add touched a login that already has an @: %s", out)
	}
}

func TestExportUsersIdenticalSuffixesWarnAndNoOp(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory("wp_")
	st.AddUser(store.User{Login: "jdoe@x"})

	var logBuf bytes.Buffer
	l.SetOutput(&logBuf)
	defer l.SetOutput(os.Stderr)

	var buf bytes.Buffer
	if _, err := ExportUsers(ctx, st, &buf, UserExportOptions{SuffixTrim: "@x", SuffixAdd: "@x"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "jdoe@x") {
		t.Errorf("identical suffixes must leave logins untouched: %s", buf.String())
	}
	if !strings.Contains(logBuf.String(), "identical") {
		t.Errorf("expected a warning about identical suffixes, got: %s", logBuf.String())
	}
}
