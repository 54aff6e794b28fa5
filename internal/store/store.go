// Package store provides access to the WordPress tables the migration
// pipeline reads and writes directly: users, usermeta, posts, postmeta,
// options and blogs. Users and usermeta are network-global (base prefix);
// posts, postmeta and options belong to one tenant and are addressed
// through an explicit content prefix instead of an ambient current-site
// switch.
package store

import "context"

// User mirrors the fixed identity columns of the users table.
type User struct {
	ID          int64
	Login       string
	Pass        string
	NiceName    string
	Email       string
	URL         string
	Registered  string
	Status      int64
	DisplayName string
}

// Post is the slice of a content record the remapping engine needs.
type Post struct {
	ID     int64
	Title  string
	Author int64
}

type Store interface {
	// BasePrefix is the network-wide table prefix (users, usermeta, blogs).
	BasePrefix() string
	// ContentPrefix is the tenant-scoped prefix (posts, postmeta, options).
	ContentPrefix() string
	// WithContentPrefix returns a view of the same store scoped to another
	// tenant's tables.
	WithContentPrefix(prefix string) Store

	Users(ctx context.Context) ([]User, error)
	// FindUserByLoginOrEmail returns the first user matching the exact
	// login or, when email is non-empty, the exact email. Returns 0 when
	// no user matches. With duplicate logins/emails the choice is
	// undefined but deterministic within one run.
	FindUserByLoginOrEmail(ctx context.Context, login, email string) (int64, error)
	UserExists(ctx context.Context, id int64) (bool, error)
	InsertUser(ctx context.Context, u *User) (int64, error)
	SetUserPassword(ctx context.Context, id int64, hash string) error
	UserMetaAll(ctx context.Context, id int64) (map[string][]string, error)
	GetUserMeta(ctx context.Context, id int64, key string) (string, bool, error)
	SetUserMeta(ctx context.Context, id int64, key, value string) error

	CountPosts(ctx context.Context) (int64, error)
	PostsPage(ctx context.Context, limit, offset int) ([]Post, error)
	SetPostAuthor(ctx context.Context, postID, author int64) error
	GetPostMeta(ctx context.Context, postID int64, key string) (string, bool, error)
	SetPostMeta(ctx context.Context, postID int64, key, value string) error

	GetOption(ctx context.Context, name string) (string, bool, error)
	SetOption(ctx context.Context, name, value string) error
	// RenameOption changes an option's key without touching its value.
	RenameOption(ctx context.Context, oldName, newName string) error

	DomainExists(ctx context.Context, domain, path string) (bool, error)
	InsertBlog(ctx context.Context, domain, path string) (int64, error)
	BlogDomain(ctx context.Context, blogID int64) (string, error)
}
