// Package series implements the series record store, the secondary indexes
// that make series findable by inexact tag or title, the read-only resolver
// over those indexes, and the schema migration pass that backfills them.
//
// A series is an ordered collection of snippets curated under a unique tag.
// All state lives in Redis: record fields under "series:<tag>:*", a primary
// existence set, and two two-level indexes (normalized value -> set of raw
// values) for tags and titles. Every write keeps record and indexes
// consistent within a single MULTI/EXEC pipeline or Lua script.
package series

import (
	"strings"
	"time"

	"github.com/basilbot/basil/internal/plugins/snippets"
)

// Redis keys for the primary existence set and both index pairs. A "main"
// key holds the set of normalized values that currently have a live
// subindex; each "sub:" key holds the raw values sharing one normalization.
const (
	seriesIndexKey = "series_index"

	mainTitleIndexKey  = "series_title_index:main"
	titleSubindexPrefix = "series_title_index:sub:"

	normalizedIndexKey      = "series_index_norm:main"
	normalizedSubindexPrefix = "series_index_norm:sub:"
)

// Series is the aggregate root: a tagged, titled, ordered collection of
// snippets with an author set and a subscriber set.
type Series struct {
	// Tag is the unique, caller-chosen primary identifier. Case-sensitive
	// as stored, but indexed under its normalized form for lookups.
	Tag string `json:"tag"`

	// Title defaults to the tag with underscores and hyphens replaced by
	// spaces when not set explicitly. Not unique.
	Title string `json:"title"`

	// AuthorIDs is the set of users who may edit the series. Non-empty for
	// any persisted series; the first author is the creator.
	AuthorIDs []string `json:"author_ids"`

	// Subscribers is the set of users following updates. May be empty.
	Subscribers []string `json:"subscribers"`

	// Snippets is the ordered snippet sequence. Order is significant and
	// caller-controlled. A persisted series always has at least one.
	Snippets []snippets.Snippet `json:"snippets"`

	// UpdateTime is stamped on content changes only, never on metadata
	// changes like subscriptions. Zero until the first content change.
	UpdateTime time.Time `json:"update_time"`
}

// DefaultTitle derives the implicit title for a tag: underscores and
// hyphens become spaces.
func DefaultTitle(tag string) string {
	title := strings.ReplaceAll(tag, "_", " ")
	title = strings.ReplaceAll(title, "-", " ")
	return strings.TrimSpace(title)
}

// NewSeries builds an in-memory series for the given creator. It is not
// persisted until the first Save. The tag is trimmed; pass an empty title
// to derive it from the tag.
func NewSeries(tag, title, authorID string, snips []snippets.Snippet) *Series {
	tag = strings.TrimSpace(tag)
	if title == "" {
		title = DefaultTitle(tag)
	}

	return &Series{
		Tag:       tag,
		Title:     title,
		AuthorIDs: []string{authorID},
		Snippets:  snips,
	}
}

// redisPrefix returns the key prefix all of this series' fields share.
func (s *Series) redisPrefix() string {
	return recordPrefix(s.Tag)
}

// recordPrefix returns the record key prefix for a raw tag.
func recordPrefix(tag string) string {
	return "series:" + tag
}

// SnippetIDs returns the ordered message ids of the series' snippets.
func (s *Series) SnippetIDs() []string {
	ids := make([]string, len(s.Snippets))
	for i, sn := range s.Snippets {
		ids[i] = sn.MessageID
	}
	return ids
}

// HasAuthor reports whether the given user may edit this series.
func (s *Series) HasAuthor(authorID string) bool {
	for _, id := range s.AuthorIDs {
		if id == authorID {
			return true
		}
	}
	return false
}

// HasSubscriber reports whether the given user is subscribed.
func (s *Series) HasSubscriber(userID string) bool {
	for _, id := range s.Subscribers {
		if id == userID {
			return true
		}
	}
	return false
}

// Wordcount returns the total whitespace-separated word count across all
// snippets in the series.
func (s *Series) Wordcount() int {
	total := 0
	for _, sn := range s.Snippets {
		total += len(strings.Fields(sn.Content))
	}
	return total
}
