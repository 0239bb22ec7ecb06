package snippets

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/basilbot/basil/internal/apperror"
)

// newTestRepo spins up an in-process Redis and a repository on top of it.
func newTestRepo(t *testing.T) (*miniredis.Miniredis, SnippetRepository) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return mr, NewSnippetRepository(rdb)
}

func TestSnippetRoundTrip(t *testing.T) {
	_, repo := newTestRepo(t)
	ctx := context.Background()

	in := &Snippet{
		MessageID: "100200300",
		AuthorID:  "42",
		Content:   "It was a dark and stormy night.",
	}
	if err := repo.Save(ctx, in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := repo.Load(ctx, "100200300")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *out != *in {
		t.Errorf("loaded %+v, want %+v", out, in)
	}
}

func TestSnippetLoad_NotFound(t *testing.T) {
	_, repo := newTestRepo(t)

	_, err := repo.Load(context.Background(), "missing")
	if !apperror.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// A snippet with only one of its two keys present is treated as absent;
// the pair is written transactionally, so a lone key is residue.
func TestSnippetLoad_PartialRecord(t *testing.T) {
	mr, repo := newTestRepo(t)

	mr.Set("snippet:555:content", "orphaned content")

	_, err := repo.Load(context.Background(), "555")
	if !apperror.IsNotFound(err) {
		t.Fatalf("expected not found for partial record, got %v", err)
	}
}

func TestSnippetSave_RequiresMessageID(t *testing.T) {
	_, repo := newTestRepo(t)

	err := repo.Save(context.Background(), &Snippet{AuthorID: "42", Content: "x"})
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
}
