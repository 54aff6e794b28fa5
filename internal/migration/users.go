package migration

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	l "log"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"wpmig-cli/internal/phpval"
	"wpmig-cli/internal/store"
)

// userHeaders is the fixed leading portion of the user CSV schema. Meta
// keys discovered on the source installation extend it to the right.
var userHeaders = []string{
	"ID",
	"user_login",
	"user_pass",
	"user_nicename",
	"user_email",
	"user_url",
	"user_registered",
	"role",
	"user_status",
	"display_name",
	"rich_editing",
	"admin_color",
	"show_admin_bar_front",
	"first_name",
	"last_name",
	"nickname",
	"aim",
	"yim",
	"jabber",
	"description",
}

// accountColumns are the headers that map onto the users table itself and
// never merge into user meta on import.
var accountColumns = map[string]bool{
	"ID":              true,
	"user_login":      true,
	"user_pass":       true,
	"user_nicename":   true,
	"user_email":      true,
	"user_url":        true,
	"user_registered": true,
	"user_status":     true,
	"display_name":    true,
	"role":            true,
}

// Meta keys that never travel between installations.
var excludedMetaKeys = map[string]bool{
	"session_tokens": true,
	"primary_blog":   true,
	"source_domain":  true,
}

var excludedMetaPatterns = []*regexp.Regexp{
	regexp.MustCompile(`capabilities$`),
	regexp.MustCompile(`user_level$`),
	regexp.MustCompile(`dashboard_quick_press_last_post_id$`),
	regexp.MustCompile(`user-settings$`),
	regexp.MustCompile(`user-settings-time$`),
}

func metaKeyExcluded(key string) bool {
	if excludedMetaKeys[key] {
		return true
	}
	for _, re := range excludedMetaPatterns {
		if re.MatchString(key) {
			return true
		}
	}
	return false
}

// UserExportOptions tunes one users export run.
type UserExportOptions struct {
	// SuffixTrim removes a trailing suffix from every login that carries
	// it, e.g. turning "jdoe@old.example" into "jdoe".
	SuffixTrim string
	// SuffixAdd appends a suffix to every login without an "@".
	SuffixAdd string
	// ExtraHeaders adds columns to the schema; ExtraUserData fills them
	// per user.
	ExtraHeaders  func() []string
	ExtraUserData func(u store.User, row map[string]string)
}

// ExportUsers writes every account of the installation, with its portable
// meta, as CSV. It returns the number of rows written.
func ExportUsers(ctx context.Context, st store.Store, w io.Writer, opts UserExportOptions) (int, error) {
	trim, add := opts.SuffixTrim, opts.SuffixAdd
	if trim != "" && trim == add {
		l.Printf("WARNING: login suffix to trim and to append are identical (%q), skipping both", trim)
		trim, add = "", ""
	}

	users, err := st.Users(ctx)
	if err != nil {
		return 0, err
	}

	headers := append([]string(nil), userHeaders...)
	if opts.ExtraHeaders != nil {
		headers = append(headers, opts.ExtraHeaders()...)
	}
	known := make(map[string]bool, len(headers))
	for _, h := range headers {
		known[h] = true
	}

	// First pass: build every row and extend the header with the meta
	// keys discovered along the way.
	rows := make([]map[string]string, 0, len(users))
	for i := range users {
		u := users[i]
		row, err := exportUserRow(ctx, st, u, trim, add)
		if err != nil {
			return 0, fmt.Errorf("could not export user %q: %w", u.Login, err)
		}
		if opts.ExtraUserData != nil {
			opts.ExtraUserData(u, row)
		}
		for _, key := range sortedKeys(row) {
			if !known[key] {
				known[key] = true
				headers = append(headers, key)
			}
		}
		rows = append(rows, row)
	}

	// Second pass: emit header and rows, backfilling columns a given
	// user has no value for.
	cw := csv.NewWriter(w)
	if err := cw.Write(headers); err != nil {
		return 0, err
	}
	for _, row := range rows {
		record := make([]string, len(headers))
		for i, h := range headers {
			record[i] = row[h]
		}
		if len(record) != len(headers) {
			return 0, fmt.Errorf("user row has %d fields, header has %d", len(record), len(headers))
		}
		if err := cw.Write(record); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func exportUserRow(ctx context.Context, st store.Store, u store.User, trim, add string) (map[string]string, error) {
	login := u.Login
	if trim != "" {
		login = strings.TrimSuffix(login, trim)
	}
	if add != "" && !strings.Contains(login, "@") {
		login += add
	}

	row := map[string]string{
		"ID":              strconv.FormatInt(u.ID, 10),
		"user_login":      login,
		"user_pass":       u.Pass,
		"user_nicename":   u.NiceName,
		"user_email":      u.Email,
		"user_url":        u.URL,
		"user_registered": u.Registered,
		"user_status":     strconv.FormatInt(u.Status, 10),
		"display_name":    u.DisplayName,
		"role":            "",
	}

	meta, err := st.UserMetaAll(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	capsKey := st.ContentPrefix() + "capabilities"
	if vals, ok := meta[capsKey]; ok && len(vals) > 0 {
		row["role"] = primaryRole(vals[0])
	}

	for key, vals := range meta {
		if metaKeyExcluded(key) || len(vals) == 0 {
			continue
		}
		if len(vals) == 1 {
			row[key] = vals[0]
			continue
		}
		list := phpval.Value{Kind: phpval.List}
		for _, v := range vals {
			list.List = append(list.List, phpval.DecodeCell(v))
		}
		cell, err := phpval.EncodeCell(list)
		if err != nil {
			return nil, err
		}
		row[key] = cell
	}
	return row, nil
}

// primaryRole picks the user's role from the capabilities meta. Level
// keys are capability grants, not roles.
func primaryRole(capsRaw string) string {
	caps, err := phpval.DecodeStringMap(capsRaw)
	if err != nil {
		return ""
	}
	names := make([]string, 0, len(caps))
	for name, granted := range caps {
		if granted && !strings.HasPrefix(name, "level_") {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return names[0]
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// UserImportOptions tunes one users import run.
type UserImportOptions struct {
	// BlogID is the tenant accounts are granted their CSV role on. Zero
	// means the main site.
	BlogID    int64
	Multisite bool

	// Before and After observe each row around the account work.
	Before func(row map[string]string)
	After  func(oldID, newID int64, row map[string]string)
	// FilterMeta can veto or rewrite a meta value before it is stored.
	// Returning false drops the key.
	FilterMeta func(key, value string) (string, bool)
}

// UserImportStats counts what one import run did.
type UserImportStats struct {
	Created  int
	Existing int
	Skipped  int
}

// ImportUsers reconciles CSV rows against the target installation's
// accounts. Existing accounts (by login or email) are reused; the rest
// are created with their password hash carried over verbatim. Every
// processed row lands in the returned ID map.
func ImportUsers(ctx context.Context, st store.Store, r io.Reader, opts UserImportOptions) (IDMap, *UserImportStats, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	headers, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("could not read the users CSV header: %w", err)
	}

	idmap := make(IDMap)
	stats := &UserImportStats{}

	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("could not read users CSV line %d: %w", line, err)
		}
		if len(record) != len(headers) {
			l.Printf("WARNING: line %d has %d fields, header has %d, skipping row", line, len(record), len(headers))
			stats.Skipped++
			continue
		}

		row := make(map[string]string, len(headers))
		for i, h := range headers {
			row[h] = record[i]
		}
		if opts.Before != nil {
			opts.Before(row)
		}

		oldID, err := strconv.ParseInt(row["ID"], 10, 64)
		if err != nil {
			l.Printf("WARNING: line %d has a non-numeric ID %q, skipping row", line, row["ID"])
			stats.Skipped++
			continue
		}

		newID, err := st.FindUserByLoginOrEmail(ctx, row["user_login"], row["user_email"])
		if err != nil {
			return idmap, stats, err
		}

		created := false
		if newID != 0 {
			stats.Existing++
		} else {
			newID, err = createUser(ctx, st, headers, row, opts.FilterMeta)
			if err != nil {
				l.Printf("WARNING: could not create user %q: %v", row["user_login"], err)
				stats.Skipped++
				continue
			}
			stats.Created++
			created = true
		}

		// On multisite every processed account joins the target site; on a
		// single site newly created accounts still get their CSV role.
		if row["role"] != "" && (opts.Multisite || created) {
			blogID := opts.BlogID
			if blogID == 0 {
				blogID = 1
			}
			if err := GrantRole(ctx, st, blogID, newID, row["role"]); err != nil {
				l.Printf("WARNING: could not grant %q to user %q on site %d: %v", row["role"], row["user_login"], blogID, err)
			}
		}

		idmap[oldID] = newID
		if opts.After != nil {
			opts.After(oldID, newID, row)
		}
	}

	l.Printf("users imported: %d created, %d reused, %d skipped", stats.Created, stats.Existing, stats.Skipped)
	return idmap, stats, nil
}

func createUser(ctx context.Context, st store.Store, headers []string, row map[string]string, filter func(string, string) (string, bool)) (int64, error) {
	status, _ := strconv.ParseInt(row["user_status"], 10, 64)
	u := &store.User{
		Login:       row["user_login"],
		Pass:        row["user_pass"],
		NiceName:    row["user_nicename"],
		Email:       row["user_email"],
		URL:         row["user_url"],
		Registered:  row["user_registered"],
		Status:      status,
		DisplayName: row["display_name"],
	}
	id, err := st.InsertUser(ctx, u)
	if err != nil {
		return 0, err
	}
	// The insert path may re-hash or reject the value, so force the
	// source hash explicitly.
	if err := st.SetUserPassword(ctx, id, row["user_pass"]); err != nil {
		return 0, err
	}

	for _, key := range headers {
		if accountColumns[key] {
			continue
		}
		value, ok := row[key]
		if !ok || value == "" {
			continue
		}
		if filter != nil {
			value, ok = filter(key, value)
			if !ok {
				continue
			}
		}
		cell, err := phpval.EncodeCell(phpval.DecodeCell(value))
		if err != nil {
			return 0, err
		}
		if err := st.SetUserMeta(ctx, id, key, cell); err != nil {
			return 0, err
		}
	}
	return id, nil
}
