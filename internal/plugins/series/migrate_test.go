package series

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/basilbot/basil/internal/plugins/snippets"
)

// seedRawRecord writes series fields directly, bypassing the repository,
// the way a pre-index deployment would have left them.
func seedRawRecord(t *testing.T, rdb *redis.Client, tag string, fields map[string]string) {
	t.Helper()
	ctx := context.Background()
	for field, value := range fields {
		if err := rdb.Set(ctx, recordPrefix(tag)+":"+field, value, 0).Err(); err != nil {
			t.Fatalf("seeding %s field %s: %v", tag, field, err)
		}
	}
}

func TestCheckSchema_BackfillsIndexes(t *testing.T) {
	rdb, repo, snipRepo := newTestStore(t)
	ctx := context.Background()

	// Two records from before the index era: one with a legacy single
	// author and no explicit title, one already on the multi-author layout.
	sn1 := snippet("1", "42", "first words")
	sn2 := snippet("2", "7", "other words")
	if err := snipRepo.Save(ctx, &sn1); err != nil {
		t.Fatalf("saving snippet: %v", err)
	}
	if err := snipRepo.Save(ctx, &sn2); err != nil {
		t.Fatalf("saving snippet: %v", err)
	}

	seedRawRecord(t, rdb, "old_tale", map[string]string{
		"snippets": `["1"]`,
		"author":   "42",
	})
	seedRawRecord(t, rdb, "My-Epic", map[string]string{
		"snippets": `["2"]`,
		"title":    "The Epic",
		"authors":  `["7"]`,
	})

	if err := CheckSchema(ctx, rdb); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertSetEquals(t, rdb, seriesIndexKey, "old_tale", "My-Epic")

	assertSetEquals(t, rdb, normalizedIndexKey, "oldtale", "myepic")
	assertSetEquals(t, rdb, normalizedSubindexPrefix+"oldtale", "old_tale")
	assertSetEquals(t, rdb, normalizedSubindexPrefix+"myepic", "My-Epic")

	// The title index uses the stored title where present and the derived
	// one otherwise.
	assertSetEquals(t, rdb, mainTitleIndexKey, "oldtale", "theepic")
	assertSetEquals(t, rdb, titleSubindexPrefix+"oldtale", "old_tale")
	assertSetEquals(t, rdb, titleSubindexPrefix+"theepic", "My-Epic")

	// Legacy author field became the author set.
	assertKeyAbsent(t, rdb, "series:old_tale:author")
	migrated, err := repo.Load(ctx, "old_tale")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(migrated.AuthorIDs) != 1 || migrated.AuthorIDs[0] != "42" {
		t.Errorf("authors = %v, want [42]", migrated.AuthorIDs)
	}
	if migrated.Title != "old tale" {
		t.Errorf("title = %q, want derived %q", migrated.Title, "old tale")
	}
}

func TestCheckSchema_NoopOnConsistentStore(t *testing.T) {
	rdb, repo, snipRepo := newTestStore(t)
	ctx := context.Background()

	s := NewSeries("settled", "", "42", []snippets.Snippet{snippet("1", "42", "x")})
	seedSeries(t, repo, snipRepo, s)

	before, err := repo.Load(ctx, "settled")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := CheckSchema(ctx, rdb); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	after, err := repo.Load(ctx, "settled")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if after.Title != before.Title || !after.UpdateTime.Equal(before.UpdateTime) {
		t.Errorf("record changed on consistent store: %+v -> %+v", before, after)
	}
	assertSetEquals(t, rdb, seriesIndexKey, "settled")
	assertSetEquals(t, rdb, normalizedSubindexPrefix+"settled", "settled")
}

// The legacy author conversion runs even when all three indexes already
// exist; it is keyed on the record field, not the index state.
func TestCheckSchema_ConvertsLegacyAuthorWhenIndexed(t *testing.T) {
	rdb, repo, snipRepo := newTestStore(t)
	ctx := context.Background()

	s := NewSeries("holdout", "", "99", []snippets.Snippet{snippet("1", "99", "x")})
	seedSeries(t, repo, snipRepo, s)

	// Regress the record to the single-author layout.
	if err := rdb.Del(ctx, "series:holdout:authors").Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := rdb.Set(ctx, "series:holdout:author", "99", 0).Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := CheckSchema(ctx, rdb); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertKeyAbsent(t, rdb, "series:holdout:author")
	migrated, err := repo.Load(ctx, "holdout")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(migrated.AuthorIDs) != 1 || migrated.AuthorIDs[0] != "99" {
		t.Errorf("authors = %v, want [99]", migrated.AuthorIDs)
	}
}

func TestCheckSchema_EmptyStore(t *testing.T) {
	rdb, _, _ := newTestStore(t)

	if err := CheckSchema(context.Background(), rdb); err != nil {
		t.Fatalf("unexpected error on empty store: %v", err)
	}
}

// Running the migration twice must converge: the second pass sees the
// indexes it built and changes nothing.
func TestCheckSchema_Idempotent(t *testing.T) {
	rdb, repo, snipRepo := newTestStore(t)
	ctx := context.Background()

	sn := snippet("1", "42", "words")
	if err := snipRepo.Save(ctx, &sn); err != nil {
		t.Fatalf("saving snippet: %v", err)
	}
	seedRawRecord(t, rdb, "twice_told", map[string]string{
		"snippets": `["1"]`,
		"author":   "42",
	})

	if err := CheckSchema(ctx, rdb); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := CheckSchema(ctx, rdb); err != nil {
		t.Fatalf("unexpected error on second run: %v", err)
	}

	assertSetEquals(t, rdb, seriesIndexKey, "twice_told")
	assertSetEquals(t, rdb, normalizedSubindexPrefix+"twicetold", "twice_told")
	if _, err := repo.Load(ctx, "twice_told"); err != nil {
		t.Errorf("migrated record should load: %v", err)
	}
}
