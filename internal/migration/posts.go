package migration

import (
	"context"
	l "log"
	"strconv"
	"strings"

	"wpmig-cli/internal/phpval"
	"wpmig-cli/internal/store"
)

// AuthorRemapOptions tunes one authorship remap run.
type AuthorRemapOptions struct {
	// UIDFields are post meta keys whose values are user IDs that need
	// the same remapping as post_author.
	UIDFields []string
	// BatchSize overrides the page size, for tests.
	BatchSize int
}

// AuthorRemapReport is the outcome of one authorship remap run.
type AuthorRemapReport struct {
	AuthorsUpdated int
	MetaUpdated    int
	// NoMapping lists posts whose author has no entry in the ID map.
	NoMapping []int64
	// SelfMapped lists posts whose author maps onto itself.
	SelfMapped []int64
}

// RemapAuthors re-points post authorship through the old-to-new user ID
// map, walking the posts table in bounded batches. Posts without an
// author are left alone.
func RemapAuthors(ctx context.Context, st store.Store, idmap IDMap, opts AuthorRemapOptions) (*AuthorRemapReport, error) {
	report := &AuthorRemapReport{}

	total, err := st.CountPosts(ctx)
	if err != nil {
		return nil, err
	}
	l.Printf("remapping authorship of %d posts", total)

	err = ForEachBatch(ctx, opts.BatchSize, st.PostsPage, func(p store.Post) error {
		if p.Author != 0 {
			mapped, ok := idmap[p.Author]
			switch {
			case !ok:
				report.NoMapping = append(report.NoMapping, p.ID)
			case mapped == p.Author:
				report.SelfMapped = append(report.SelfMapped, p.ID)
			default:
				if err := st.SetPostAuthor(ctx, p.ID, mapped); err != nil {
					return err
				}
				report.AuthorsUpdated++
			}
		}

		for _, field := range opts.UIDFields {
			value, ok, err := st.GetPostMeta(ctx, p.ID, field)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			uid, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err != nil || uid == 0 {
				continue
			}
			mapped, known := idmap[uid]
			if !known || mapped == uid {
				continue
			}
			if err := st.SetPostMeta(ctx, p.ID, field, strconv.FormatInt(mapped, 10)); err != nil {
				return err
			}
			report.MetaUpdated++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.Printf("authorship remap done: %d authors updated, %d meta values updated, %d without mapping, %d already correct",
		report.AuthorsUpdated, report.MetaUpdated, len(report.NoMapping), len(report.SelfMapped))
	return report, nil
}

// WooCommerceActive reports whether the WooCommerce plugin is active on
// the tenant or network-wide. Its order meta stores customer user IDs, so
// an active shop implies the _customer_user field needs remapping.
func WooCommerceActive(ctx context.Context, st store.Store, networkPlugins []string) bool {
	if raw, ok, err := st.GetOption(ctx, "active_plugins"); err == nil && ok {
		if plugins, err := phpval.StringList(raw); err == nil {
			if containsWoo(plugins) {
				return true
			}
		}
	}
	return containsWoo(networkPlugins)
}

func containsWoo(plugins []string) bool {
	for _, p := range plugins {
		if p == "woocommerce/woocommerce.php" || strings.HasPrefix(p, "woocommerce/") {
			return true
		}
	}
	return false
}
