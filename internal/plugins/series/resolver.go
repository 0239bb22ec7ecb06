package series

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/basilbot/basil/internal/apperror"
	"github.com/basilbot/basil/internal/normalize"
)

// Resolver is the read-only query layer over the series indexes: exact
// lookup, substring search over either main index, and author-scoped
// disambiguation of short free-text queries. It never mutates state.
type Resolver interface {
	// FindExact returns the series with the exact given tag.
	FindExact(ctx context.Context, tag string) (*Series, error)

	// FindByTagSubstring returns every series whose normalized tag contains
	// the normalized query as a substring.
	FindByTagSubstring(ctx context.Context, query string) ([]*Series, error)

	// FindByTitleSubstring returns every series whose normalized title
	// contains the normalized query, grouped by matched normalized title
	// for display purposes.
	FindByTitleSubstring(ctx context.Context, query string) (map[string][]*Series, error)

	// FindCloseByTag narrows the substring candidate pool by edit-distance
	// closeness of raw tags to the query, keeping only series the given
	// author may edit. Best matches first.
	FindCloseByTag(ctx context.Context, query, authorID string) ([]*Series, error)

	// FindCloseByTitle is FindCloseByTag over raw titles.
	FindCloseByTitle(ctx context.Context, query, authorID string) ([]*Series, error)

	// Resolve finds the one series a short query means: an exact tag match,
	// else the single same-normalization tag candidate authored by authorID,
	// else the single same-normalization title candidate authored by
	// authorID. Anything non-singular is NotFound -- ambiguity is never a
	// result at this layer.
	Resolve(ctx context.Context, query, authorID string) (*Series, error)
}

// redisResolver implements Resolver by scanning the main index sets and
// loading candidates through the record store.
type redisResolver struct {
	rdb  *redis.Client
	repo SeriesRepository
	sim  Similarity
}

// NewResolver creates a resolver over the given client and repository.
// Pass a nil Similarity to use the default Levenshtein ratio.
func NewResolver(rdb *redis.Client, repo SeriesRepository, sim Similarity) Resolver {
	if sim == nil {
		sim = levenshteinRatio
	}
	return &redisResolver{rdb: rdb, repo: repo, sim: sim}
}

// FindExact delegates to the record store.
func (r *redisResolver) FindExact(ctx context.Context, tag string) (*Series, error) {
	return r.repo.Load(ctx, tag)
}

// FindByTagSubstring scans the main tag index for normalized values
// containing the normalized query, then loads every tag in each matching
// subindex. Distinct buckets hold distinct tags, so no deduplication is
// needed.
func (r *redisResolver) FindByTagSubstring(ctx context.Context, query string) ([]*Series, error) {
	normalized := normalize.Normalize(query)

	var found []*Series
	iter := r.rdb.SScan(ctx, normalizedIndexKey, 0, "", 0).Iterator()
	for iter.Next(ctx) {
		idxTag := iter.Val()
		if !strings.Contains(idxTag, normalized) {
			continue
		}

		bucket, err := r.loadSubindex(ctx, normalizedSubindexPrefix+idxTag)
		if err != nil {
			return nil, err
		}
		found = append(found, bucket...)
	}
	if err := iter.Err(); err != nil {
		return nil, apperror.NewUnavailable(fmt.Errorf("scanning tag index: %w", err))
	}

	return found, nil
}

// FindByTitleSubstring scans the main title index for normalized titles
// containing the normalized query and loads each matching subindex.
func (r *redisResolver) FindByTitleSubstring(ctx context.Context, query string) (map[string][]*Series, error) {
	normalized := normalize.Normalize(query)

	found := make(map[string][]*Series)
	iter := r.rdb.SScan(ctx, mainTitleIndexKey, 0, "", 0).Iterator()
	for iter.Next(ctx) {
		idxTitle := iter.Val()
		if !strings.Contains(idxTitle, normalized) {
			continue
		}

		bucket, err := r.loadSubindex(ctx, titleSubindexPrefix+idxTitle)
		if err != nil {
			return nil, err
		}
		found[idxTitle] = bucket
	}
	if err := iter.Err(); err != nil {
		return nil, apperror.NewUnavailable(fmt.Errorf("scanning title index: %w", err))
	}

	return found, nil
}

// FindCloseByTag ranks the raw tags from the substring candidate pool by
// similarity to the query and keeps the author's own series.
func (r *redisResolver) FindCloseByTag(ctx context.Context, query, authorID string) ([]*Series, error) {
	candidates, err := r.FindByTagSubstring(ctx, query)
	if err != nil {
		return nil, err
	}

	byTag := make(map[string]*Series, len(candidates))
	tags := make([]string, 0, len(candidates))
	for _, s := range candidates {
		byTag[s.Tag] = s
		tags = append(tags, s.Tag)
	}

	var matched []*Series
	for _, tag := range closestMatches(query, tags, r.sim, closeMatchCutoff) {
		if s := byTag[tag]; s.HasAuthor(authorID) {
			matched = append(matched, s)
		}
	}
	return matched, nil
}

// FindCloseByTitle ranks raw titles from the substring candidate pool by
// similarity to the query and keeps the author's own series. Series sharing
// one raw title stay together in the ranking.
func (r *redisResolver) FindCloseByTitle(ctx context.Context, query, authorID string) ([]*Series, error) {
	groups, err := r.FindByTitleSubstring(ctx, query)
	if err != nil {
		return nil, err
	}

	byTitle := make(map[string][]*Series)
	var titles []string
	for _, bucket := range groups {
		for _, s := range bucket {
			if _, seen := byTitle[s.Title]; !seen {
				titles = append(titles, s.Title)
			}
			byTitle[s.Title] = append(byTitle[s.Title], s)
		}
	}

	var matched []*Series
	for _, title := range closestMatches(query, titles, r.sim, closeMatchCutoff) {
		for _, s := range byTitle[title] {
			if s.HasAuthor(authorID) {
				matched = append(matched, s)
			}
		}
	}
	return matched, nil
}

// Resolve tries exact tag, then the normalized-tag bucket, then the
// normalized-title bucket, requiring a single authored candidate at each
// fuzzy step.
func (r *redisResolver) Resolve(ctx context.Context, query, authorID string) (*Series, error) {
	s, err := r.repo.Load(ctx, query)
	if err == nil {
		return s, nil
	}
	if !apperror.IsNotFound(err) {
		return nil, err
	}

	normalized := normalize.Normalize(query)

	candidates, err := r.loadSubindex(ctx, normalizedSubindexPrefix+normalized)
	if err != nil {
		return nil, err
	}
	if s := singleAuthored(candidates, authorID); s != nil {
		return s, nil
	}

	candidates, err = r.loadSubindex(ctx, titleSubindexPrefix+normalized)
	if err != nil {
		return nil, err
	}
	if s := singleAuthored(candidates, authorID); s != nil {
		return s, nil
	}

	return nil, apperror.NewNotFound("could not resolve series query")
}

// loadSubindex loads every series whose tag is a member of the given
// subindex set.
func (r *redisResolver) loadSubindex(ctx context.Context, key string) ([]*Series, error) {
	var found []*Series

	iter := r.rdb.SScan(ctx, key, 0, "", 0).Iterator()
	for iter.Next(ctx) {
		s, err := r.repo.Load(ctx, iter.Val())
		if err != nil {
			return nil, err
		}
		found = append(found, s)
	}
	if err := iter.Err(); err != nil {
		return nil, apperror.NewUnavailable(fmt.Errorf("scanning subindex %s: %w", key, err))
	}

	return found, nil
}

// singleAuthored returns the candidate when exactly one is editable by the
// author, nil otherwise.
func singleAuthored(candidates []*Series, authorID string) *Series {
	var match *Series
	for _, s := range candidates {
		if !s.HasAuthor(authorID) {
			continue
		}
		if match != nil {
			return nil
		}
		match = s
	}
	return match
}
