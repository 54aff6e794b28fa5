package migration

import (
	"context"
	"errors"
	"fmt"
	l "log"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"wpmig-cli/internal/phpval"
	"wpmig-cli/internal/store"
)

var (
	ErrUserNotFound = errors.New("user does not exist")
	ErrSiteNotFound = errors.New("site does not exist")
	ErrRoleNotFound = errors.New("role is not defined on the target site")
)

var multiSlashRe = regexp.MustCompile(`/{2,}`)

// NormalizeURL reduces a site address to the canonical domain[/path] form
// used for site lookup and search-replace. The scheme is optional and
// dropped, the host is lowercased, ports survive, duplicate slashes
// collapse and a trailing slash is trimmed. An unparseable address
// normalizes to the empty string.
func NormalizeURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return ""
	}

	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port := u.Port(); port != "" {
		host += ":" + port
	}

	path := multiSlashRe.ReplaceAllString(u.Path, "/")
	path = strings.TrimSuffix(path, "/")
	return host + path
}

// PrefixForBlog resolves the table prefix of one tenant. The first site
// uses the bare network prefix.
func PrefixForBlog(base string, blogID int64) string {
	if blogID <= 1 {
		return base
	}
	return fmt.Sprintf("%s%d_", base, blogID)
}

// splitSiteURL breaks a normalized URL into the domain and path columns
// of the sites table.
func splitSiteURL(normalized string) (domain, path string) {
	if i := strings.Index(normalized, "/"); i >= 0 {
		return normalized[:i], normalized[i:] + "/"
	}
	return normalized, "/"
}

// CreateSite registers a new tenant for the packaged site and returns its
// ID. When a site already occupies the same domain and path it returns 0
// without an error, leaving the decision to the caller.
func CreateSite(ctx context.Context, st store.Store, meta *SiteMeta) (int64, error) {
	normalized := NormalizeURL(meta.URL)
	if normalized == "" {
		return 0, fmt.Errorf("cannot create a site from unusable url %q", meta.URL)
	}
	domain, path := splitSiteURL(normalized)

	exists, err := st.DomainExists(ctx, domain, path)
	if err != nil {
		return 0, err
	}
	if exists {
		l.Printf("site %s%s already exists, not creating", domain, path)
		return 0, nil
	}

	id, err := st.InsertBlog(ctx, domain, path)
	if err != nil {
		return 0, fmt.Errorf("could not register site %s%s: %w", domain, path, err)
	}
	l.Printf("created site %s%s with ID %d", domain, path, id)
	return id, nil
}

// GrantRole gives a user the named role on one tenant without switching
// the ambient site context. It merges the tenant-scoped capabilities
// meta, recomputes the user level from the role definition and seeds the
// primary blog on first membership.
func GrantRole(ctx context.Context, st store.Store, blogID, userID int64, role string) error {
	ok, err := st.UserExists(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("cannot grant %q to user %d: %w", role, userID, ErrUserNotFound)
	}

	domain := ""
	if blogID > 1 {
		domain, err = st.BlogDomain(ctx, blogID)
		if err != nil {
			return fmt.Errorf("cannot grant %q on site %d: %w", role, blogID, ErrSiteNotFound)
		}
	}

	prefix := PrefixForBlog(st.BasePrefix(), blogID)
	content := st.WithContentPrefix(prefix)

	rolesRaw, found, err := content.GetOption(ctx, prefix+"user_roles")
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("site %d has no role definitions: %w", blogID, ErrRoleNotFound)
	}
	level, err := roleLevel(rolesRaw, role)
	if err != nil {
		return err
	}

	capsKey := prefix + "capabilities"
	caps := make(map[string]bool)
	if existing, ok, err := st.GetUserMeta(ctx, userID, capsKey); err != nil {
		return err
	} else if ok {
		if decoded, err := phpval.DecodeStringMap(existing); err == nil {
			caps = decoded
		}
	}
	for k := range caps {
		if strings.HasPrefix(k, "level_") {
			delete(caps, k)
		}
	}
	caps[role] = true

	encoded, err := phpval.EncodeStringMap(caps)
	if err != nil {
		return err
	}
	if err := st.SetUserMeta(ctx, userID, capsKey, encoded); err != nil {
		return err
	}
	if err := st.SetUserMeta(ctx, userID, prefix+"user_level", strconv.Itoa(level)); err != nil {
		return err
	}

	if _, ok, err := st.GetUserMeta(ctx, userID, "primary_blog"); err != nil {
		return err
	} else if !ok {
		if err := st.SetUserMeta(ctx, userID, "primary_blog", strconv.FormatInt(blogID, 10)); err != nil {
			return err
		}
		if domain != "" {
			if err := st.SetUserMeta(ctx, userID, "source_domain", domain); err != nil {
				return err
			}
		}
	}
	return nil
}

// roleLevel finds the highest level_N capability granted by a role
// definition. Roles without level capabilities grant level 0.
func roleLevel(rolesRaw, role string) (int, error) {
	roles, err := phpval.Decode(rolesRaw)
	if err != nil || roles.Kind != phpval.Map {
		return 0, fmt.Errorf("role definitions are not readable: %w", ErrRoleNotFound)
	}
	def, ok := roles.Map[role]
	if !ok {
		return 0, fmt.Errorf("role %q: %w", role, ErrRoleNotFound)
	}

	level := 0
	if def.Kind == phpval.Map {
		if caps, ok := def.Map["capabilities"]; ok && caps.Kind == phpval.Map {
			for name, granted := range caps.Map {
				if granted.Kind == phpval.Scalar && (granted.Scalar == "" || granted.Scalar == "0") {
					continue
				}
				if n, found := strings.CutPrefix(name, "level_"); found {
					if v, err := strconv.Atoi(n); err == nil && v > level {
						level = v
					}
				}
			}
		}
	}
	return level, nil
}
