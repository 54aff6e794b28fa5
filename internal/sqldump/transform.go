// Package sqldump rewrites SQL dump files in place: table prefix
// substitution, transaction wrapping and export-time sanitization.
package sqldump

import (
	"fmt"
	"io"
	l "log"
	"os"
	"path/filepath"
	"strings"
)

// Statement keywords after which a backtick-quoted table name may carry
// the prefix. Only occurrences adjacent to these keywords are rewritten,
// so data values that happen to contain the prefix text are left alone.
var prefixKeywords = []string{
	"DROP TABLE IF EXISTS",
	"CREATE TABLE",
	"LOCK TABLES",
	"INSERT INTO",
	"CREATE TABLE IF NOT EXISTS",
	"ALTER TABLE",
	"CONSTRAINT",
	"REFERENCES",
	"RENAME TABLE",
	"DROP VIEW IF EXISTS",
	"CREATE VIEW",
	"ALTER VIEW",
	"TRIGGER",
}

// RewritePrefix substitutes oldPrefix with newPrefix wherever it follows
// one of the recognized statement keywords with a backtick quote. A dump
// without a prefix change (empty newPrefix) is a no-op.
func RewritePrefix(path, oldPrefix, newPrefix string) error {
	if newPrefix == "" {
		return nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read SQL file %s: %w", path, err)
	}

	pairs := make([]string, 0, len(prefixKeywords)*2)
	for _, kw := range prefixKeywords {
		pairs = append(pairs, kw+" `"+oldPrefix, kw+" `"+newPrefix)
	}
	rewritten := strings.NewReplacer(pairs...).Replace(string(content))

	if len(content) > 0 && rewritten == "" {
		return fmt.Errorf("prefix rewrite of %s produced empty content", path)
	}

	if err := os.WriteFile(path, []byte(rewritten), 0644); err != nil {
		return fmt.Errorf("could not overwrite SQL file %s: %w", path, err)
	}
	return nil
}

// WrapInTransaction surrounds the dump with START TRANSACTION/COMMIT using
// a streaming copy. Dumps already carrying a transaction marker in the
// first kilobyte are left untouched, and gzip-compressed dumps are skipped
// with a warning.
func WrapInTransaction(path string) error {
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		l.Printf("Warning: transaction wrap skipped: gzip-compressed dump %s", path)
		return nil
	}

	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("could not open SQL file %s: %w", path, err)
	}
	defer in.Close()

	head := make([]byte, 1024)
	n, err := in.Read(head)
	if err != nil && err != io.EOF {
		return fmt.Errorf("could not read SQL file %s: %w", path, err)
	}
	if strings.Contains(strings.ToUpper(string(head[:n])), "START TRANSACTION") {
		l.Printf("transaction wrap skipped: %s already carries a transaction", path)
		return nil
	}
	if _, err := in.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("could not rewind SQL file %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "wpmig-txn-*.sql")
	if err != nil {
		return fmt.Errorf("could not create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString("START TRANSACTION;\n"); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("could not write temp file: %w", err)
	}
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("could not copy SQL file: %w", err)
	}
	if _, err := tmp.WriteString("\nCOMMIT;\n"); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("could not write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("could not close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("could not replace SQL file %s: %w", path, err)
	}
	return nil
}
