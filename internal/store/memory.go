package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-memory Store used by engine tests and dry runs. A
// single backing state is shared across prefix-scoped views, mirroring
// how all tenants live in one database.
type Memory struct {
	state   *memoryState
	content string
}

type memoryState struct {
	mu         sync.Mutex
	base       string
	nextUserID int64
	nextBlogID int64
	users      map[int64]*User
	userMeta   map[int64]map[string][]string
	// content tables keyed by prefix
	posts    map[string][]*Post
	postMeta map[string]map[int64]map[string]string
	options  map[string]map[string]string
	blogs    map[int64][2]string
}

func NewMemory(basePrefix string) *Memory {
	return &Memory{
		state: &memoryState{
			base:       basePrefix,
			nextUserID: 1,
			nextBlogID: 1,
			users:      make(map[int64]*User),
			userMeta:   make(map[int64]map[string][]string),
			posts:      make(map[string][]*Post),
			postMeta:   make(map[string]map[int64]map[string]string),
			options:    make(map[string]map[string]string),
			blogs:      make(map[int64][2]string),
		},
		content: basePrefix,
	}
}

func (m *Memory) BasePrefix() string    { return m.state.base }
func (m *Memory) ContentPrefix() string { return m.content }

func (m *Memory) WithContentPrefix(prefix string) Store {
	return &Memory{state: m.state, content: prefix}
}

// AddUser seeds a user, assigning an ID when none is set.
func (m *Memory) AddUser(u User) int64 {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	if u.ID == 0 {
		u.ID = m.state.nextUserID
	}
	if u.ID >= m.state.nextUserID {
		m.state.nextUserID = u.ID + 1
	}
	copied := u
	m.state.users[u.ID] = &copied
	return u.ID
}

// AddPost seeds a post into the current content prefix.
func (m *Memory) AddPost(p Post) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	copied := p
	m.state.posts[m.content] = append(m.state.posts[m.content], &copied)
}

func (m *Memory) Users(_ context.Context) ([]User, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()

	ids := make([]int64, 0, len(m.state.users))
	for id := range m.state.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	users := make([]User, 0, len(ids))
	for _, id := range ids {
		users = append(users, *m.state.users[id])
	}
	return users, nil
}

func (m *Memory) FindUserByLoginOrEmail(_ context.Context, login, email string) (int64, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()

	ids := make([]int64, 0, len(m.state.users))
	for id := range m.state.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		u := m.state.users[id]
		if u.Login == login || (email != "" && u.Email == email) {
			return id, nil
		}
	}
	return 0, nil
}

func (m *Memory) UserExists(_ context.Context, id int64) (bool, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	_, ok := m.state.users[id]
	return ok, nil
}

func (m *Memory) InsertUser(_ context.Context, u *User) (int64, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()

	if u.Login == "" {
		return 0, fmt.Errorf("cannot create a user without a login")
	}
	copied := *u
	copied.ID = m.state.nextUserID
	m.state.nextUserID++
	m.state.users[copied.ID] = &copied
	return copied.ID, nil
}

func (m *Memory) SetUserPassword(_ context.Context, id int64, hash string) error {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	u, ok := m.state.users[id]
	if !ok {
		return fmt.Errorf("user %d does not exist", id)
	}
	u.Pass = hash
	return nil
}

func (m *Memory) UserMetaAll(_ context.Context, id int64) (map[string][]string, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()

	out := make(map[string][]string)
	for k, vals := range m.state.userMeta[id] {
		out[k] = append([]string(nil), vals...)
	}
	return out, nil
}

func (m *Memory) GetUserMeta(_ context.Context, id int64, key string) (string, bool, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()

	vals, ok := m.state.userMeta[id][key]
	if !ok || len(vals) == 0 {
		return "", false, nil
	}
	return vals[0], true, nil
}

func (m *Memory) SetUserMeta(_ context.Context, id int64, key, value string) error {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()

	if m.state.userMeta[id] == nil {
		m.state.userMeta[id] = make(map[string][]string)
	}
	m.state.userMeta[id][key] = []string{value}
	return nil
}

func (m *Memory) CountPosts(_ context.Context) (int64, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	return int64(len(m.state.posts[m.content])), nil
}

func (m *Memory) PostsPage(_ context.Context, limit, offset int) ([]Post, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()

	posts := m.state.posts[m.content]
	if offset >= len(posts) {
		return nil, nil
	}
	end := offset + limit
	if end > len(posts) {
		end = len(posts)
	}
	out := make([]Post, 0, end-offset)
	for _, p := range posts[offset:end] {
		out = append(out, *p)
	}
	return out, nil
}

func (m *Memory) SetPostAuthor(_ context.Context, postID, author int64) error {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()

	for _, p := range m.state.posts[m.content] {
		if p.ID == postID {
			p.Author = author
			return nil
		}
	}
	return fmt.Errorf("post %d does not exist", postID)
}

func (m *Memory) GetPostMeta(_ context.Context, postID int64, key string) (string, bool, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()

	v, ok := m.state.postMeta[m.content][postID][key]
	return v, ok, nil
}

func (m *Memory) SetPostMeta(_ context.Context, postID int64, key, value string) error {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()

	if m.state.postMeta[m.content] == nil {
		m.state.postMeta[m.content] = make(map[int64]map[string]string)
	}
	if m.state.postMeta[m.content][postID] == nil {
		m.state.postMeta[m.content][postID] = make(map[string]string)
	}
	m.state.postMeta[m.content][postID][key] = value
	return nil
}

func (m *Memory) GetOption(_ context.Context, name string) (string, bool, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()

	v, ok := m.state.options[m.content][name]
	return v, ok, nil
}

func (m *Memory) SetOption(_ context.Context, name, value string) error {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()

	if m.state.options[m.content] == nil {
		m.state.options[m.content] = make(map[string]string)
	}
	m.state.options[m.content][name] = value
	return nil
}

func (m *Memory) RenameOption(_ context.Context, oldName, newName string) error {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()

	opts := m.state.options[m.content]
	if opts == nil {
		return nil
	}
	if v, ok := opts[oldName]; ok {
		delete(opts, oldName)
		opts[newName] = v
	}
	return nil
}

func (m *Memory) DomainExists(_ context.Context, domain, path string) (bool, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()

	for _, b := range m.state.blogs {
		if b[0] == domain && b[1] == path {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) InsertBlog(_ context.Context, domain, path string) (int64, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()

	m.state.nextBlogID++
	id := m.state.nextBlogID
	m.state.blogs[id] = [2]string{domain, path}
	return id, nil
}

// SeedBlog registers a site under a fixed ID, for tests.
func (m *Memory) SeedBlog(id int64, domain, path string) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	m.state.blogs[id] = [2]string{domain, path}
	if id >= m.state.nextBlogID {
		m.state.nextBlogID = id
	}
}

func (m *Memory) BlogDomain(_ context.Context, blogID int64) (string, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()

	b, ok := m.state.blogs[blogID]
	if !ok {
		return "", fmt.Errorf("site %d does not exist", blogID)
	}
	return b[0], nil
}
