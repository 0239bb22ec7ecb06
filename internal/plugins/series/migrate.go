package series

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/basilbot/basil/internal/normalize"
)

// CheckSchema is the idempotent schema migration pass, safe to run on every
// startup. It backfills the primary existence set and both index pairs for
// records written before those indexes existed, and converts the legacy
// single-author field into the author set. The scan performs only reads;
// all writes are batched into one MULTI/EXEC pipeline executed once at the
// end, and only if something actually needed fixing. A second run on a
// consistent store makes zero writes.
func CheckSchema(ctx context.Context, rdb *redis.Client) error {
	indexExists, err := keyExists(ctx, rdb, seriesIndexKey)
	if err != nil {
		return err
	}
	normIndexExists, err := keyExists(ctx, rdb, normalizedIndexKey)
	if err != nil {
		return err
	}
	titleIndexExists, err := keyExists(ctx, rdb, mainTitleIndexKey)
	if err != nil {
		return err
	}

	pipe := rdb.TxPipeline()
	dirty := !(indexExists && normIndexExists && titleIndexExists)
	scanned := 0

	iter := rdb.Scan(ctx, 0, "series:*:snippets", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		tag := strings.SplitN(key, ":", 3)[1]
		prefix := recordPrefix(tag)
		scanned++

		if !indexExists {
			pipe.SAdd(ctx, seriesIndexKey, tag)
		}

		if !normIndexExists {
			normTag := normalize.Normalize(tag)
			pipe.SAdd(ctx, normalizedIndexKey, normTag)
			pipe.SAdd(ctx, normalizedSubindexPrefix+normTag, tag)
		}

		if !titleIndexExists {
			title, err := rdb.Get(ctx, prefix+":title").Result()
			if err == redis.Nil {
				title = DefaultTitle(tag)
			} else if err != nil {
				return fmt.Errorf("reading title of %q: %w", tag, err)
			}
			normTitle := normalize.Normalize(title)

			pipe.SAdd(ctx, mainTitleIndexKey, normTitle)
			pipe.SAdd(ctx, titleSubindexPrefix+normTitle, tag)
		}

		// Pre-multi-author records hold a single author id under :author.
		legacyAuthor, err := rdb.Get(ctx, prefix+":author").Result()
		if err == nil {
			authors, err := json.Marshal([]string{legacyAuthor})
			if err != nil {
				return fmt.Errorf("encoding authors of %q: %w", tag, err)
			}
			pipe.Del(ctx, prefix+":author")
			pipe.Set(ctx, prefix+":authors", authors, 0)
			dirty = true
		} else if err != redis.Nil {
			return fmt.Errorf("reading legacy author of %q: %w", tag, err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scanning series records: %w", err)
	}

	if !dirty {
		return nil
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("applying series schema migration: %w", err)
	}

	slog.Info("series schema migration applied",
		slog.Int("records", scanned),
		slog.Bool("primary_index_built", !indexExists),
		slog.Bool("tag_index_built", !normIndexExists),
		slog.Bool("title_index_built", !titleIndexExists),
	)
	return nil
}

// keyExists reports whether the given key is present.
func keyExists(ctx context.Context, rdb *redis.Client, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", key, err)
	}
	return n > 0, nil
}
