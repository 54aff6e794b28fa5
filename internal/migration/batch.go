package migration

import "context"

// defaultBatchSize bounds how many records are held in memory while
// walking a large table.
const defaultBatchSize = 1000

// ForEachBatch pages through a record source with advancing offsets until
// it yields an empty page, passing every record to fn. A fn error stops
// the walk immediately.
func ForEachBatch[T any](ctx context.Context, size int, fetch func(ctx context.Context, limit, offset int) ([]T, error), fn func(T) error) error {
	if size <= 0 {
		size = defaultBatchSize
	}
	for offset := 0; ; offset += size {
		page, err := fetch(ctx, size, offset)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		for _, item := range page {
			if err := fn(item); err != nil {
				return err
			}
		}
	}
}
