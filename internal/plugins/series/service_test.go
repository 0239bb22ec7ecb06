package series

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/basilbot/basil/internal/apperror"
	"github.com/basilbot/basil/internal/plugins/snippets"
)

func newTestService(t *testing.T) (*redis.Client, SeriesService) {
	t.Helper()
	rdb, repo, snipRepo := newTestStore(t)
	return rdb, NewSeriesService(repo, snipRepo)
}

func TestServiceCreate(t *testing.T) {
	_, svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{
		Tag:      "  new_series  ",
		AuthorID: "42",
		Snippets: []snippets.Snippet{snippet("1", "42", "opening line")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Tag != "new_series" {
		t.Errorf("tag = %q, want trimmed new_series", created.Tag)
	}
	if created.Title != "new series" {
		t.Errorf("title = %q, want derived %q", created.Title, "new series")
	}

	// The snippets were persisted along with the series.
	loaded, err := svc.Get(ctx, "new_series")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(loaded.Snippets) != 1 || loaded.Snippets[0].Content != "opening line" {
		t.Errorf("snippets = %+v", loaded.Snippets)
	}
	if loaded.UpdateTime.IsZero() {
		t.Error("create should stamp the update time")
	}
}

func TestServiceCreate_Validation(t *testing.T) {
	_, svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{
		Tag:      "   ",
		AuthorID: "42",
		Snippets: []snippets.Snippet{snippet("1", "42", "x")},
	})
	assertAppError(t, err, 400)

	_, err = svc.Create(ctx, CreateInput{
		Tag:      "no_author",
		Snippets: []snippets.Snippet{snippet("1", "42", "x")},
	})
	assertAppError(t, err, 400)

	_, err = svc.Create(ctx, CreateInput{Tag: "no_snippets", AuthorID: "42"})
	assertAppError(t, err, 422)
}

func TestServiceCreate_DuplicateTag(t *testing.T) {
	_, svc := newTestService(t)
	ctx := context.Background()

	input := CreateInput{
		Tag:      "taken",
		AuthorID: "42",
		Snippets: []snippets.Snippet{snippet("1", "42", "x")},
	}
	if _, err := svc.Create(ctx, input); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	input.Snippets = []snippets.Snippet{snippet("2", "7", "y")}
	input.AuthorID = "7"
	_, err := svc.Create(ctx, input)
	assertAppError(t, err, 409)
}

func TestServiceList_SkipsVanishedRecords(t *testing.T) {
	rdb, svc := newTestService(t)
	ctx := context.Background()

	for _, tag := range []string{"keeper", "goner"} {
		_, err := svc.Create(ctx, CreateInput{
			Tag:      tag,
			AuthorID: "42",
			Snippets: []snippets.Snippet{snippet("m"+tag, "42", "x")},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	// Simulate a record deleted out from under the existence set.
	if err := rdb.Del(ctx, "series:goner:snippets").Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	all, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 1 || all[0].Tag != "keeper" {
		t.Errorf("list = %v, want [keeper]", tagsOf(all))
	}
}

func TestServiceAppendSnippets(t *testing.T) {
	_, svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{
		Tag:      "growing",
		AuthorID: "42",
		Snippets: []snippets.Snippet{snippet("1", "42", "first")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	updated, err := svc.AppendSnippets(ctx, "growing", []snippets.Snippet{
		snippet("2", "42", "second"),
		snippet("3", "7", "third"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ids := updated.SnippetIDs()
	if len(ids) != 3 || ids[0] != "1" || ids[1] != "2" || ids[2] != "3" {
		t.Errorf("snippet ids = %v, want [1 2 3]", ids)
	}
	if updated.UpdateTime.Before(created.UpdateTime) {
		t.Errorf("append should stamp the update time")
	}

	_, err = svc.AppendSnippets(ctx, "growing", nil)
	assertAppError(t, err, 422)

	_, err = svc.AppendSnippets(ctx, "missing", []snippets.Snippet{snippet("9", "42", "x")})
	if !apperror.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestServiceReorderSnippets(t *testing.T) {
	_, svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{
		Tag:      "shuffled",
		AuthorID: "42",
		Snippets: []snippets.Snippet{
			snippet("1", "42", "a"),
			snippet("2", "42", "b"),
			snippet("3", "42", "c"),
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Reverse and drop one; dropping is allowed as long as one remains.
	updated, err := svc.ReorderSnippets(ctx, "shuffled", []string{"3", "1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ids := updated.SnippetIDs()
	if len(ids) != 2 || ids[0] != "3" || ids[1] != "1" {
		t.Errorf("snippet ids = %v, want [3 1]", ids)
	}

	// The new order persists.
	loaded, err := svc.Get(ctx, "shuffled")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := loaded.SnippetIDs(); len(got) != 2 || got[0] != "3" {
		t.Errorf("persisted ids = %v, want [3 1]", got)
	}

	_, err = svc.ReorderSnippets(ctx, "shuffled", []string{"3", "999"})
	assertAppError(t, err, 422)

	_, err = svc.ReorderSnippets(ctx, "shuffled", nil)
	assertAppError(t, err, 422)
}

func TestServiceRetitle_RequiresTitle(t *testing.T) {
	_, svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{
		Tag:      "titled",
		AuthorID: "42",
		Snippets: []snippets.Snippet{snippet("1", "42", "x")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = svc.Retitle(ctx, "titled", "   ")
	assertAppError(t, err, 400)
}

func TestServiceSubscribe(t *testing.T) {
	_, svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{
		Tag:      "followed",
		AuthorID: "42",
		Snippets: []snippets.Snippet{snippet("1", "42", "x")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.Subscribe(ctx, "followed", "99"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Subscribing twice is a no-op, not a duplicate entry.
	s, err := svc.Subscribe(ctx, "followed", "99")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.Subscribers) != 1 {
		t.Errorf("subscribers = %v, want [99]", s.Subscribers)
	}

	// Subscriptions are metadata; the update time must not move. Stored
	// timestamps have second resolution, so compare unix seconds.
	loaded, err := svc.Get(ctx, "followed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.UpdateTime.Unix() != created.UpdateTime.Unix() {
		t.Errorf("update time moved from %v to %v on subscribe",
			created.UpdateTime, loaded.UpdateTime)
	}

	_, err = svc.Subscribe(ctx, "followed", "")
	assertAppError(t, err, 400)
}

func TestServiceUnsubscribe(t *testing.T) {
	_, svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{
		Tag:      "left",
		AuthorID: "42",
		Snippets: []snippets.Snippet{snippet("1", "42", "x")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.Subscribe(ctx, "left", "99"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, err := svc.Unsubscribe(ctx, "left", "99")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.Subscribers) != 0 {
		t.Errorf("subscribers = %v, want empty", s.Subscribers)
	}

	// Unsubscribing a non-subscriber is a no-op.
	if _, err := svc.Unsubscribe(ctx, "left", "404"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestServiceDelete(t *testing.T) {
	_, svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{
		Tag:      "done",
		AuthorID: "42",
		Snippets: []snippets.Snippet{snippet("1", "42", "x")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := svc.Delete(ctx, "done"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Get(ctx, "done"); !apperror.IsNotFound(err) {
		t.Fatalf("expected not found after delete, got %v", err)
	}

	if err := svc.Delete(ctx, "done"); !apperror.IsNotFound(err) {
		t.Fatalf("expected not found for double delete, got %v", err)
	}
}
