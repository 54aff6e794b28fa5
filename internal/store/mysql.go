package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQL implements Store against a live WordPress database.
type MySQL struct {
	db      *sql.DB
	base    string
	content string
}

// Open connects with a go-sql-driver DSN and the installation's base
// table prefix.
func Open(dsn, basePrefix string) (*MySQL, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetMaxOpenConns(4)
	return &MySQL{db: db, base: basePrefix, content: basePrefix}, nil
}

// NewMySQL wraps an existing connection, for tests that provision their
// own database.
func NewMySQL(db *sql.DB, basePrefix string) *MySQL {
	return &MySQL{db: db, base: basePrefix, content: basePrefix}
}

func (m *MySQL) Close() error { return m.db.Close() }

func (m *MySQL) BasePrefix() string    { return m.base }
func (m *MySQL) ContentPrefix() string { return m.content }

func (m *MySQL) WithContentPrefix(prefix string) Store {
	return &MySQL{db: m.db, base: m.base, content: prefix}
}

func (m *MySQL) Users(ctx context.Context) ([]User, error) {
	query := fmt.Sprintf(
		"SELECT ID, user_login, user_pass, user_nicename, user_email, user_url, user_registered, user_status, display_name FROM %susers ORDER BY ID",
		m.base)
	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("could not query users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Login, &u.Pass, &u.NiceName, &u.Email, &u.URL, &u.Registered, &u.Status, &u.DisplayName); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (m *MySQL) FindUserByLoginOrEmail(ctx context.Context, login, email string) (int64, error) {
	query := fmt.Sprintf(
		"SELECT ID FROM %susers WHERE user_login = ? OR (user_email = ? AND user_email != '') LIMIT 1",
		m.base)
	var id int64
	err := m.db.QueryRowContext(ctx, query, login, email).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("could not look up user %q: %w", login, err)
	}
	return id, nil
}

func (m *MySQL) UserExists(ctx context.Context, id int64) (bool, error) {
	query := fmt.Sprintf("SELECT 1 FROM %susers WHERE ID = ?", m.base)
	var one int
	err := m.db.QueryRowContext(ctx, query, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m *MySQL) InsertUser(ctx context.Context, u *User) (int64, error) {
	registered := u.Registered
	if registered == "" {
		registered = time.Now().UTC().Format("2006-01-02 15:04:05")
	}
	query := fmt.Sprintf(
		"INSERT INTO %susers (user_login, user_pass, user_nicename, user_email, user_url, user_registered, user_status, display_name) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		m.base)
	res, err := m.db.ExecContext(ctx, query, u.Login, u.Pass, u.NiceName, u.Email, u.URL, registered, u.Status, u.DisplayName)
	if err != nil {
		return 0, fmt.Errorf("could not insert user %q: %w", u.Login, err)
	}
	return res.LastInsertId()
}

func (m *MySQL) SetUserPassword(ctx context.Context, id int64, hash string) error {
	query := fmt.Sprintf("UPDATE %susers SET user_pass = ? WHERE ID = ?", m.base)
	_, err := m.db.ExecContext(ctx, query, hash, id)
	return err
}

func (m *MySQL) UserMetaAll(ctx context.Context, id int64) (map[string][]string, error) {
	query := fmt.Sprintf("SELECT meta_key, meta_value FROM %susermeta WHERE user_id = ? ORDER BY umeta_id", m.base)
	rows, err := m.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("could not query user meta: %w", err)
	}
	defer rows.Close()

	meta := make(map[string][]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		meta[key] = append(meta[key], value)
	}
	return meta, rows.Err()
}

func (m *MySQL) GetUserMeta(ctx context.Context, id int64, key string) (string, bool, error) {
	query := fmt.Sprintf("SELECT meta_value FROM %susermeta WHERE user_id = ? AND meta_key = ? ORDER BY umeta_id LIMIT 1", m.base)
	var value string
	err := m.db.QueryRowContext(ctx, query, id, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (m *MySQL) SetUserMeta(ctx context.Context, id int64, key, value string) error {
	update := fmt.Sprintf("UPDATE %susermeta SET meta_value = ? WHERE user_id = ? AND meta_key = ?", m.base)
	res, err := m.db.ExecContext(ctx, update, value, id, key)
	if err != nil {
		return fmt.Errorf("could not update user meta %q: %w", key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	// No row updated: the key may be absent, or already hold this value.
	if _, ok, err := m.GetUserMeta(ctx, id, key); err != nil {
		return err
	} else if ok {
		return nil
	}
	insert := fmt.Sprintf("INSERT INTO %susermeta (user_id, meta_key, meta_value) VALUES (?, ?, ?)", m.base)
	_, err = m.db.ExecContext(ctx, insert, id, key, value)
	return err
}

func (m *MySQL) CountPosts(ctx context.Context) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(ID) FROM %sposts", m.content)
	var count int64
	if err := m.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("could not count posts: %w", err)
	}
	return count, nil
}

func (m *MySQL) PostsPage(ctx context.Context, limit, offset int) ([]Post, error) {
	query := fmt.Sprintf("SELECT ID, post_title, post_author FROM %sposts ORDER BY ID LIMIT ? OFFSET ?", m.content)
	rows, err := m.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("could not query posts: %w", err)
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.Title, &p.Author); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func (m *MySQL) SetPostAuthor(ctx context.Context, postID, author int64) error {
	query := fmt.Sprintf("UPDATE %sposts SET post_author = ? WHERE ID = ?", m.content)
	_, err := m.db.ExecContext(ctx, query, author, postID)
	return err
}

func (m *MySQL) GetPostMeta(ctx context.Context, postID int64, key string) (string, bool, error) {
	query := fmt.Sprintf("SELECT meta_value FROM %spostmeta WHERE post_id = ? AND meta_key = ? ORDER BY meta_id LIMIT 1", m.content)
	var value string
	err := m.db.QueryRowContext(ctx, query, postID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (m *MySQL) SetPostMeta(ctx context.Context, postID int64, key, value string) error {
	update := fmt.Sprintf("UPDATE %spostmeta SET meta_value = ? WHERE post_id = ? AND meta_key = ?", m.content)
	res, err := m.db.ExecContext(ctx, update, value, postID, key)
	if err != nil {
		return fmt.Errorf("could not update post meta %q: %w", key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	if _, ok, err := m.GetPostMeta(ctx, postID, key); err != nil {
		return err
	} else if ok {
		return nil
	}
	insert := fmt.Sprintf("INSERT INTO %spostmeta (post_id, meta_key, meta_value) VALUES (?, ?, ?)", m.content)
	_, err = m.db.ExecContext(ctx, insert, postID, key, value)
	return err
}

func (m *MySQL) GetOption(ctx context.Context, name string) (string, bool, error) {
	query := fmt.Sprintf("SELECT option_value FROM %soptions WHERE option_name = ? LIMIT 1", m.content)
	var value string
	err := m.db.QueryRowContext(ctx, query, name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (m *MySQL) SetOption(ctx context.Context, name, value string) error {
	update := fmt.Sprintf("UPDATE %soptions SET option_value = ? WHERE option_name = ?", m.content)
	res, err := m.db.ExecContext(ctx, update, value, name)
	if err != nil {
		return fmt.Errorf("could not update option %q: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	if _, ok, err := m.GetOption(ctx, name); err != nil {
		return err
	} else if ok {
		return nil
	}
	insert := fmt.Sprintf("INSERT INTO %soptions (option_name, option_value, autoload) VALUES (?, ?, 'yes')", m.content)
	_, err = m.db.ExecContext(ctx, insert, name, value)
	return err
}

func (m *MySQL) RenameOption(ctx context.Context, oldName, newName string) error {
	query := fmt.Sprintf("UPDATE %soptions SET option_name = ? WHERE option_name = ?", m.content)
	_, err := m.db.ExecContext(ctx, query, newName, oldName)
	if err != nil {
		return fmt.Errorf("could not rename option %q: %w", oldName, err)
	}
	return nil
}

func (m *MySQL) DomainExists(ctx context.Context, domain, path string) (bool, error) {
	query := fmt.Sprintf("SELECT blog_id FROM %sblogs WHERE domain = ? AND path = ? LIMIT 1", m.base)
	var id int64
	err := m.db.QueryRowContext(ctx, query, domain, path).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("could not look up domain %q: %w", domain, err)
	}
	return true, nil
}

func (m *MySQL) InsertBlog(ctx context.Context, domain, path string) (int64, error) {
	now := time.Now().UTC().Format("2006-01-02 15:04:05")
	query := fmt.Sprintf(
		"INSERT INTO %sblogs (site_id, domain, path, registered, last_updated) VALUES (1, ?, ?, ?, ?)",
		m.base)
	res, err := m.db.ExecContext(ctx, query, domain, path, now, now)
	if err != nil {
		return 0, fmt.Errorf("could not insert site %q: %w", domain, err)
	}
	return res.LastInsertId()
}

func (m *MySQL) BlogDomain(ctx context.Context, blogID int64) (string, error) {
	query := fmt.Sprintf("SELECT domain FROM %sblogs WHERE blog_id = ?", m.base)
	var domain string
	err := m.db.QueryRowContext(ctx, query, blogID).Scan(&domain)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("site %d does not exist", blogID)
	}
	if err != nil {
		return "", err
	}
	return domain, nil
}
