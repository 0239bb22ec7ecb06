package series

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/basilbot/basil/internal/apperror"
	"github.com/basilbot/basil/internal/normalize"
	"github.com/basilbot/basil/internal/plugins/snippets"
)

// The subindex cleanup below is a read-gated conditional delete (SCARD then
// DEL) that cannot be split into separate client-side steps: a concurrent
// SADD could land between the read and the delete and be lost. Each cleanup
// therefore runs as a single server-side Lua script.

// titleIndexRemoveScript deletes a series' title key and removes its tag
// from the title subindex, deleting the subindex and its main-index entry
// when the subindex becomes empty.
//
// KEYS[1] series title key, KEYS[2] main title index, KEYS[3] title subindex.
// ARGV[1] series tag, ARGV[2] normalized title.
var titleIndexRemoveScript = redis.NewScript(`
redis.call("del", KEYS[1])
redis.call("srem", KEYS[3], ARGV[1])

if redis.call("scard", KEYS[3]) == 0 then
    redis.call("del", KEYS[3])
    redis.call("srem", KEYS[2], ARGV[2])
end

return 0
`)

// titleIndexRenameScript sets the series' title key and moves its tag from
// the old title subindex to the new one, with the same empty-bucket cleanup
// on the old subindex.
//
// KEYS[1] series title key, KEYS[2] main title index, KEYS[3] old title
// subindex, KEYS[4] new title subindex.
// ARGV[1] series tag, ARGV[2] new raw title, ARGV[3] old normalized title,
// ARGV[4] new normalized title.
var titleIndexRenameScript = redis.NewScript(`
redis.call("set", KEYS[1], ARGV[2])

redis.call("srem", KEYS[3], ARGV[1])
redis.call("sadd", KEYS[4], ARGV[1])

redis.call("sadd", KEYS[2], ARGV[4])

if redis.call("scard", KEYS[3]) == 0 then
    redis.call("del", KEYS[3])
    redis.call("srem", KEYS[2], ARGV[3])
end

return 0
`)

// tagIndexRemoveScript removes a raw tag from its normalized-tag subindex,
// deleting the subindex and its main-index entry when it becomes empty.
//
// KEYS[1] main tag index, KEYS[2] tag subindex.
// ARGV[1] raw tag, ARGV[2] normalized tag.
var tagIndexRemoveScript = redis.NewScript(`
redis.call("srem", KEYS[2], ARGV[1])

if redis.call("scard", KEYS[2]) == 0 then
    redis.call("del", KEYS[2])
    redis.call("srem", KEYS[1], ARGV[2])
end

return 0
`)

// tagIndexRenameScript moves index membership from the old normalized tag
// bucket to the new one. When old and new normalize identically the SREM
// and SADD hit the same subindex, which still swaps the raw values.
//
// KEYS[1] main tag index, KEYS[2] old tag subindex, KEYS[3] new tag subindex.
// ARGV[1] old raw tag, ARGV[2] new raw tag, ARGV[3] old normalized tag,
// ARGV[4] new normalized tag.
var tagIndexRenameScript = redis.NewScript(`
redis.call("srem", KEYS[2], ARGV[1])
redis.call("sadd", KEYS[3], ARGV[2])

redis.call("sadd", KEYS[1], ARGV[4])

if redis.call("scard", KEYS[2]) == 0 then
    redis.call("del", KEYS[2])
    redis.call("srem", KEYS[1], ARGV[3])
end

return 0
`)

// SeriesRepository defines the data access contract for series records and
// their secondary indexes. Every mutation keeps record and indexes
// consistent as one atomic unit, except ChangeTag (see its doc comment).
type SeriesRepository interface {
	// Load reads all fields of the series with the exact given tag. The
	// snippets key is the existence marker: its absence means NotFound even
	// if stray fields remain from a prior partial failure.
	Load(ctx context.Context, tag string) (*Series, error)

	// Save writes every record field, the primary existence set entry, and
	// both index entries in one MULTI/EXEC pipeline. The index writes are
	// idempotent set-adds, so re-saving is safe. When touch is true the
	// update time is stamped first; metadata-only saves pass false.
	Save(ctx context.Context, s *Series, touch bool) error

	// Delete removes all record fields, the existence set entry, and both
	// index entries in one MULTI/EXEC pipeline. Empty subindex buckets are
	// cleaned up by the remove scripts inside the same transaction.
	Delete(ctx context.Context, s *Series) error

	// ChangeTag renames the series. It returns a conflict error when a live
	// series already holds newTag. The record key renames, existence set
	// move, title subindex swap, and tag index rename all execute in one
	// MULTI/EXEC pipeline, but the conflict check runs before it, so two
	// concurrent renames of the same series can interleave. Rename is not
	// safe to retry concurrently for the same tag; a crash mid-sequence is
	// repaired by the schema migration pass.
	ChangeTag(ctx context.Context, s *Series, newTag string) error

	// ChangeTitle retitles the series atomically via a single server-side
	// script covering the title key and the title index move.
	ChangeTitle(ctx context.Context, s *Series, newTitle string) error

	// ListTags returns every live tag from the primary existence set.
	ListTags(ctx context.Context) ([]string, error)
}

// redisSeriesRepository implements SeriesRepository on Redis. Snippet
// content lives in its own record store; series records hold only the
// ordered ids, replayed through the snippet repository on load.
type redisSeriesRepository struct {
	rdb   *redis.Client
	snips snippets.SnippetRepository
}

// NewSeriesRepository creates a series repository backed by the given
// client and snippet store.
func NewSeriesRepository(rdb *redis.Client, snips snippets.SnippetRepository) SeriesRepository {
	return &redisSeriesRepository{rdb: rdb, snips: snips}
}

// Load reads the five record fields in one MGET and replays the snippet
// ids through the snippet store.
func (r *redisSeriesRepository) Load(ctx context.Context, tag string) (*Series, error) {
	prefix := recordPrefix(tag)

	vals, err := r.rdb.MGet(ctx,
		prefix+":snippets",
		prefix+":title",
		prefix+":authors",
		prefix+":subscribers",
		prefix+":updated",
	).Result()
	if err != nil {
		return nil, apperror.NewUnavailable(fmt.Errorf("loading series %q: %w", tag, err))
	}

	rawSnippets, ok := vals[0].(string)
	if !ok {
		return nil, apperror.NewNotFound("series not found")
	}

	s := &Series{Tag: tag}

	var snippetIDs []string
	if err := json.Unmarshal([]byte(rawSnippets), &snippetIDs); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("decoding snippet ids for %q: %w", tag, err))
	}

	if title, ok := vals[1].(string); ok {
		s.Title = title
	} else {
		// Records written before the title field existed derive it.
		s.Title = DefaultTitle(tag)
	}

	if rawAuthors, ok := vals[2].(string); ok {
		if err := json.Unmarshal([]byte(rawAuthors), &s.AuthorIDs); err != nil {
			return nil, apperror.NewInternal(fmt.Errorf("decoding authors for %q: %w", tag, err))
		}
	}

	if rawSubs, ok := vals[3].(string); ok {
		if err := json.Unmarshal([]byte(rawSubs), &s.Subscribers); err != nil {
			return nil, apperror.NewInternal(fmt.Errorf("decoding subscribers for %q: %w", tag, err))
		}
	}

	if rawUpdated, ok := vals[4].(string); ok {
		s.UpdateTime = parseUpdateTime(rawUpdated)
	}

	s.Snippets = make([]snippets.Snippet, 0, len(snippetIDs))
	for _, id := range snippetIDs {
		sn, err := r.snips.Load(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("loading snippet %s of series %q: %w", id, tag, err)
		}
		s.Snippets = append(s.Snippets, *sn)
	}

	return s, nil
}

// Save writes the record and index entries as one transaction, so a
// completed save always leaves a series fully reachable through both
// indexes.
func (r *redisSeriesRepository) Save(ctx context.Context, s *Series, touch bool) error {
	normTitle := normalize.Normalize(s.Title)
	normTag := normalize.Normalize(s.Tag)
	prefix := s.redisPrefix()

	if touch {
		s.UpdateTime = time.Now()
	}

	snippetIDs, err := json.Marshal(s.SnippetIDs())
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("encoding snippet ids: %w", err))
	}
	authors, err := json.Marshal(emptyAsList(s.AuthorIDs))
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("encoding authors: %w", err))
	}
	subscribers, err := json.Marshal(emptyAsList(s.Subscribers))
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("encoding subscribers: %w", err))
	}

	pipe := r.rdb.TxPipeline()

	pipe.SAdd(ctx, seriesIndexKey, s.Tag)

	pipe.Set(ctx, prefix+":snippets", snippetIDs, 0)
	pipe.Set(ctx, prefix+":title", s.Title, 0)
	pipe.Set(ctx, prefix+":authors", authors, 0)
	pipe.Set(ctx, prefix+":subscribers", subscribers, 0)

	if touch {
		pipe.Set(ctx, prefix+":updated", formatUpdateTime(s.UpdateTime), 0)
	}

	pipe.SAdd(ctx, titleSubindexPrefix+normTitle, s.Tag)
	pipe.SAdd(ctx, mainTitleIndexKey, normTitle)

	pipe.SAdd(ctx, normalizedSubindexPrefix+normTag, s.Tag)
	pipe.SAdd(ctx, normalizedIndexKey, normTag)

	if _, err := pipe.Exec(ctx); err != nil {
		return apperror.NewUnavailable(fmt.Errorf("saving series %q: %w", s.Tag, err))
	}
	return nil
}

// Delete removes the record, the existence set entry, and both index
// entries in one transaction. The remove scripts run inside the MULTI so
// the empty-bucket cleanup is part of the same atomic unit.
func (r *redisSeriesRepository) Delete(ctx context.Context, s *Series) error {
	normTag := normalize.Normalize(s.Tag)
	normTitle := normalize.Normalize(s.Title)
	prefix := s.redisPrefix()

	pipe := r.rdb.TxPipeline()

	pipe.Del(ctx, prefix+":snippets")
	pipe.Del(ctx, prefix+":authors")
	pipe.Del(ctx, prefix+":updated")
	pipe.Del(ctx, prefix+":subscribers")
	pipe.SRem(ctx, seriesIndexKey, s.Tag)

	titleIndexRemoveScript.Eval(ctx, pipe,
		[]string{prefix + ":title", mainTitleIndexKey, titleSubindexPrefix + normTitle},
		s.Tag, normTitle,
	)
	tagIndexRemoveScript.Eval(ctx, pipe,
		[]string{normalizedIndexKey, normalizedSubindexPrefix + normTag},
		s.Tag, normTag,
	)

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return apperror.NewUnavailable(fmt.Errorf("deleting series %q: %w", s.Tag, err))
	}
	return nil
}

// ChangeTag moves the series to a new tag. See the interface doc for the
// concurrency caveat: the conflict check and the rename pipeline are two
// steps, and the store cannot make a cross-prefix rename all-or-nothing.
func (r *redisSeriesRepository) ChangeTag(ctx context.Context, s *Series, newTag string) error {
	newTag = strings.TrimSpace(newTag)
	if newTag == "" {
		return apperror.NewValidation("series tag is required")
	}
	if newTag == s.Tag {
		return nil
	}

	oldPrefix := s.redisPrefix()
	newPrefix := recordPrefix(newTag)

	// Conflict guard on the target's existence marker.
	exists, err := r.rdb.Exists(ctx, newPrefix+":snippets").Result()
	if err != nil {
		return apperror.NewUnavailable(fmt.Errorf("checking rename target %q: %w", newTag, err))
	}
	if exists > 0 {
		return apperror.NewConflict(fmt.Sprintf("a series tagged %q already exists", newTag))
	}

	// The updated field is absent until the first content change; RENAME
	// on a missing key fails the whole transaction.
	hasUpdated, err := r.rdb.Exists(ctx, oldPrefix+":updated").Result()
	if err != nil {
		return apperror.NewUnavailable(fmt.Errorf("checking series %q: %w", s.Tag, err))
	}

	oldNormTag := normalize.Normalize(s.Tag)
	newNormTag := normalize.Normalize(newTag)
	normTitle := normalize.Normalize(s.Title)

	pipe := r.rdb.TxPipeline()

	pipe.Rename(ctx, oldPrefix+":snippets", newPrefix+":snippets")
	pipe.Rename(ctx, oldPrefix+":title", newPrefix+":title")
	pipe.Rename(ctx, oldPrefix+":authors", newPrefix+":authors")
	pipe.Rename(ctx, oldPrefix+":subscribers", newPrefix+":subscribers")
	if hasUpdated > 0 {
		pipe.Rename(ctx, oldPrefix+":updated", newPrefix+":updated")
	}

	pipe.SRem(ctx, seriesIndexKey, s.Tag)
	pipe.SAdd(ctx, seriesIndexKey, newTag)

	// The title is unchanged, so only the raw tag inside its subindex moves.
	pipe.SRem(ctx, titleSubindexPrefix+normTitle, s.Tag)
	pipe.SAdd(ctx, titleSubindexPrefix+normTitle, newTag)

	tagIndexRenameScript.Eval(ctx, pipe,
		[]string{
			normalizedIndexKey,
			normalizedSubindexPrefix + oldNormTag,
			normalizedSubindexPrefix + newNormTag,
		},
		s.Tag, newTag, oldNormTag, newNormTag,
	)

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return apperror.NewUnavailable(fmt.Errorf("renaming series %q to %q: %w", s.Tag, newTag, err))
	}

	s.Tag = newTag
	return nil
}

// ChangeTitle retitles the series. A single script writes the title key and
// moves the tag between title subindexes so the title field and the title
// index can never disagree.
func (r *redisSeriesRepository) ChangeTitle(ctx context.Context, s *Series, newTitle string) error {
	oldNormTitle := normalize.Normalize(s.Title)
	newNormTitle := normalize.Normalize(newTitle)

	err := titleIndexRenameScript.Eval(ctx, r.rdb,
		[]string{
			s.redisPrefix() + ":title",
			mainTitleIndexKey,
			titleSubindexPrefix + oldNormTitle,
			titleSubindexPrefix + newNormTitle,
		},
		s.Tag, newTitle, oldNormTitle, newNormTitle,
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return apperror.NewUnavailable(fmt.Errorf("retitling series %q: %w", s.Tag, err))
	}

	s.Title = newTitle
	return nil
}

// ListTags returns every tag in the primary existence set.
func (r *redisSeriesRepository) ListTags(ctx context.Context) ([]string, error) {
	tags, err := r.rdb.SMembers(ctx, seriesIndexKey).Result()
	if err != nil {
		return nil, apperror.NewUnavailable(fmt.Errorf("listing series tags: %w", err))
	}
	return tags, nil
}

// emptyAsList substitutes an empty slice for nil so sets serialize as []
// instead of null.
func emptyAsList(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// formatUpdateTime serializes an update timestamp as decimal unix seconds.
func formatUpdateTime(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

// parseUpdateTime reads an update timestamp. Fractional seconds from
// records written by older deployments are truncated.
func parseUpdateTime(raw string) time.Time {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(int64(f), 0)
}
