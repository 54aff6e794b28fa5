package sqldump

import (
	"bytes"
	l "log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeDump(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write dump: %v", err)
	}
	return path
}

func TestRewritePrefixOnlyTouchesKeywordAdjacentOccurrences(t *testing.T) {
	dump := "CREATE TABLE `old_posts` (id INT);\n" +
		"INSERT INTO `old_posts` VALUES (1, 'the old_ prefix shows up in text');\n" +
		"LOCK TABLES `old_options` WRITE;\n"

	path := writeDump(t, "dump.sql", dump)
	if err := RewritePrefix(path, "old_", "new_"); err != nil {
		t.Fatalf("RewritePrefix failed: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read rewritten dump: %v", err)
	}
	content := string(got)

	for _, want := range []string{"CREATE TABLE `new_posts`", "INSERT INTO `new_posts`", "LOCK TABLES `new_options`"} {
		if !strings.Contains(content, want) {
			t.Errorf("expected %q in rewritten dump", want)
		}
	}
	if !strings.Contains(content, "the old_ prefix shows up in text") {
		t.Errorf("data value containing the prefix must not be rewritten")
	}
}

func TestRewritePrefixEmptyNewPrefixIsNoop(t *testing.T) {
	dump := "CREATE TABLE `old_posts` (id INT);\n"
	path := writeDump(t, "dump.sql", dump)

	if err := RewritePrefix(path, "old_", ""); err != nil {
		t.Fatalf("RewritePrefix with empty new prefix should succeed: %v", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != dump {
		t.Errorf("dump must be untouched when no new prefix is given")
	}
}

func TestRewritePrefixMissingFile(t *testing.T) {
	if err := RewritePrefix(filepath.Join(t.TempDir(), "absent.sql"), "a_", "b_"); err == nil {
		t.Errorf("expected error for missing file")
	}
}

func TestWrapInTransaction(t *testing.T) {
	path := writeDump(t, "dump.sql", "INSERT INTO `wp_posts` VALUES (1);\n")

	if err := WrapInTransaction(path); err != nil {
		t.Fatalf("WrapInTransaction failed: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read wrapped dump: %v", err)
	}
	content := string(got)
	if !strings.HasPrefix(content, "START TRANSACTION;\n") {
		t.Errorf("dump should start with a transaction marker, got %q", content[:40])
	}
	if !strings.HasSuffix(content, "COMMIT;\n") {
		t.Errorf("dump should end with a commit")
	}
}

func TestWrapInTransactionIsIdempotent(t *testing.T) {
	path := writeDump(t, "dump.sql", "INSERT INTO `wp_posts` VALUES (1);\n")

	if err := WrapInTransaction(path); err != nil {
		t.Fatalf("first wrap failed: %v", err)
	}
	first, _ := os.ReadFile(path)

	var logBuf bytes.Buffer
	l.SetOutput(&logBuf)
	defer l.SetOutput(os.Stderr)

	if err := WrapInTransaction(path); err != nil {
		t.Fatalf("second wrap failed: %v", err)
	}
	second, _ := os.ReadFile(path)

	if !bytes.Equal(first, second) {
		t.Errorf("an already-wrapped dump must be left untouched")
	}
	if !strings.Contains(logBuf.String(), "already carries a transaction") {
		t.Errorf("expected a skip notice for the wrapped dump, got: %s", logBuf.String())
	}
}

func TestWrapInTransactionSkipsCompressedDumps(t *testing.T) {
	content := "\x1f\x8b-not-really-gzip"
	path := writeDump(t, "dump.sql.gz", content)

	if err := WrapInTransaction(path); err != nil {
		t.Fatalf("compressed dump should be skipped, not failed: %v", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != content {
		t.Errorf("compressed dump must not be modified")
	}
}

func TestSanitizeDropsLicenseOptionRows(t *testing.T) {
	dump := "-- Test dump\n" +
		"INSERT INTO wp_options VALUES (2,'blogname','Test Site','yes');\n" +
		"INSERT INTO wp_options VALUES (1,'license_number','ABC123','yes');\n" +
		"INSERT INTO wp_posts VALUES (1,'license_number');\n"

	var out bytes.Buffer
	if err := NewSanitizer().Sanitize(strings.NewReader(dump), &out); err != nil {
		t.Fatalf("Sanitize failed: %v", err)
	}

	content := out.String()
	if strings.Contains(content, "'license_number','ABC123'") {
		t.Errorf("license option row should be removed")
	}
	if !strings.Contains(content, "blogname") {
		t.Errorf("unrelated option rows must be kept")
	}
	if !strings.Contains(content, "wp_posts") {
		t.Errorf("non-options tables must be kept even when values collide")
	}
	if !strings.Contains(content, "-- Test dump") {
		t.Errorf("unparseable lines must pass through")
	}
}
