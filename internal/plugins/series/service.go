package series

import (
	"context"
	"fmt"
	"strings"

	"github.com/basilbot/basil/internal/apperror"
	"github.com/basilbot/basil/internal/plugins/snippets"
)

// SeriesService defines the business logic contract for series operations.
// Handlers call these methods -- they never touch the repository directly.
type SeriesService interface {
	// Create validates input, stores the snippets, and persists a new
	// series. The creator becomes the first author. An empty title derives
	// from the tag.
	Create(ctx context.Context, input CreateInput) (*Series, error)

	// Get returns the series with the exact given tag.
	Get(ctx context.Context, tag string) (*Series, error)

	// List loads every live series. Records that vanish between the index
	// read and the load (e.g. a concurrent delete) are skipped.
	List(ctx context.Context) ([]*Series, error)

	// AppendSnippets stores the given snippets and appends them to the
	// series, stamping the update time.
	AppendSnippets(ctx context.Context, tag string, snips []snippets.Snippet) (*Series, error)

	// ReorderSnippets replaces the series' snippet order with the given
	// message ids, which must be a non-empty subset of the current ones.
	// A series must keep at least one snippet after an edit.
	ReorderSnippets(ctx context.Context, tag string, messageIDs []string) (*Series, error)

	// Rename changes the series tag, moving its record keys and index
	// membership. Fails with a conflict if the target tag is taken.
	Rename(ctx context.Context, tag, newTag string) (*Series, error)

	// Retitle changes the series title and its title index membership.
	Retitle(ctx context.Context, tag, newTitle string) (*Series, error)

	// Subscribe adds a user to the subscriber set. Metadata only; the
	// update time is not touched.
	Subscribe(ctx context.Context, tag, userID string) (*Series, error)

	// Unsubscribe removes a user from the subscriber set.
	Unsubscribe(ctx context.Context, tag, userID string) (*Series, error)

	// Delete removes the series record and all its index entries.
	Delete(ctx context.Context, tag string) error
}

// CreateInput carries the fields needed to start a new series.
type CreateInput struct {
	Tag      string
	Title    string
	AuthorID string
	Snippets []snippets.Snippet
}

// seriesService implements SeriesService with validation on top of the
// record store.
type seriesService struct {
	repo  SeriesRepository
	snips snippets.SnippetRepository
}

// NewSeriesService creates a SeriesService backed by the given repositories.
func NewSeriesService(repo SeriesRepository, snips snippets.SnippetRepository) SeriesService {
	return &seriesService{repo: repo, snips: snips}
}

// Create validates the tag and snippet list, rejects collisions with live
// tags, stores the snippets, and saves the new series.
func (s *seriesService) Create(ctx context.Context, input CreateInput) (*Series, error) {
	tag := strings.TrimSpace(input.Tag)
	if tag == "" {
		return nil, apperror.NewBadRequest("series tag is required")
	}
	if input.AuthorID == "" {
		return nil, apperror.NewBadRequest("series author is required")
	}
	if len(input.Snippets) == 0 {
		return nil, apperror.NewValidation("a series needs at least one snippet")
	}

	// Reject a tag that already names a live series.
	_, err := s.repo.Load(ctx, tag)
	if err == nil {
		return nil, apperror.NewConflict(fmt.Sprintf("a series tagged %q already exists", tag))
	}
	if !apperror.IsNotFound(err) {
		return nil, err
	}

	if err := s.saveSnippets(ctx, input.Snippets); err != nil {
		return nil, err
	}

	series := NewSeries(tag, strings.TrimSpace(input.Title), input.AuthorID, input.Snippets)
	if err := s.repo.Save(ctx, series, true); err != nil {
		return nil, err
	}
	return series, nil
}

// Get returns the series with the exact given tag.
func (s *seriesService) Get(ctx context.Context, tag string) (*Series, error) {
	return s.repo.Load(ctx, tag)
}

// List loads every series named by the primary existence set.
func (s *seriesService) List(ctx context.Context) ([]*Series, error) {
	tags, err := s.repo.ListTags(ctx)
	if err != nil {
		return nil, err
	}

	all := make([]*Series, 0, len(tags))
	for _, tag := range tags {
		series, err := s.repo.Load(ctx, tag)
		if apperror.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		all = append(all, series)
	}
	return all, nil
}

// AppendSnippets stores and appends snippets to an existing series.
func (s *seriesService) AppendSnippets(ctx context.Context, tag string, snips []snippets.Snippet) (*Series, error) {
	if len(snips) == 0 {
		return nil, apperror.NewValidation("no snippets to append")
	}

	series, err := s.repo.Load(ctx, tag)
	if err != nil {
		return nil, err
	}

	if err := s.saveSnippets(ctx, snips); err != nil {
		return nil, err
	}

	series.Snippets = append(series.Snippets, snips...)
	if err := s.repo.Save(ctx, series, true); err != nil {
		return nil, err
	}
	return series, nil
}

// ReorderSnippets rewrites the snippet order from the given message ids.
// Every id must belong to the series already; dropping some is allowed as
// long as at least one remains.
func (s *seriesService) ReorderSnippets(ctx context.Context, tag string, messageIDs []string) (*Series, error) {
	if len(messageIDs) == 0 {
		return nil, apperror.NewValidation("a series must keep at least one snippet")
	}

	series, err := s.repo.Load(ctx, tag)
	if err != nil {
		return nil, err
	}

	current := make(map[string]snippets.Snippet, len(series.Snippets))
	for _, sn := range series.Snippets {
		current[sn.MessageID] = sn
	}

	reordered := make([]snippets.Snippet, 0, len(messageIDs))
	for _, id := range messageIDs {
		sn, ok := current[id]
		if !ok {
			return nil, apperror.NewValidation(fmt.Sprintf("snippet %s is not part of this series", id))
		}
		reordered = append(reordered, sn)
	}

	series.Snippets = reordered
	if err := s.repo.Save(ctx, series, true); err != nil {
		return nil, err
	}
	return series, nil
}

// Rename changes the series tag.
func (s *seriesService) Rename(ctx context.Context, tag, newTag string) (*Series, error) {
	series, err := s.repo.Load(ctx, tag)
	if err != nil {
		return nil, err
	}

	if err := s.repo.ChangeTag(ctx, series, strings.TrimSpace(newTag)); err != nil {
		return nil, err
	}
	return series, nil
}

// Retitle changes the series title.
func (s *seriesService) Retitle(ctx context.Context, tag, newTitle string) (*Series, error) {
	newTitle = strings.TrimSpace(newTitle)
	if newTitle == "" {
		return nil, apperror.NewBadRequest("series title is required")
	}

	series, err := s.repo.Load(ctx, tag)
	if err != nil {
		return nil, err
	}

	if err := s.repo.ChangeTitle(ctx, series, newTitle); err != nil {
		return nil, err
	}
	return series, nil
}

// Subscribe adds the user to the subscriber set without touching the
// update time.
func (s *seriesService) Subscribe(ctx context.Context, tag, userID string) (*Series, error) {
	if userID == "" {
		return nil, apperror.NewBadRequest("user id is required")
	}

	series, err := s.repo.Load(ctx, tag)
	if err != nil {
		return nil, err
	}

	if series.HasSubscriber(userID) {
		return series, nil
	}

	series.Subscribers = append(series.Subscribers, userID)
	if err := s.repo.Save(ctx, series, false); err != nil {
		return nil, err
	}
	return series, nil
}

// Unsubscribe removes the user from the subscriber set.
func (s *seriesService) Unsubscribe(ctx context.Context, tag, userID string) (*Series, error) {
	series, err := s.repo.Load(ctx, tag)
	if err != nil {
		return nil, err
	}

	if !series.HasSubscriber(userID) {
		return series, nil
	}

	kept := make([]string, 0, len(series.Subscribers)-1)
	for _, id := range series.Subscribers {
		if id != userID {
			kept = append(kept, id)
		}
	}
	series.Subscribers = kept

	if err := s.repo.Save(ctx, series, false); err != nil {
		return nil, err
	}
	return series, nil
}

// Delete removes the series and its index entries.
func (s *seriesService) Delete(ctx context.Context, tag string) error {
	series, err := s.repo.Load(ctx, tag)
	if err != nil {
		return err
	}
	return s.repo.Delete(ctx, series)
}

// saveSnippets persists each snippet through the snippet store.
func (s *seriesService) saveSnippets(ctx context.Context, snips []snippets.Snippet) error {
	for i := range snips {
		if err := s.snips.Save(ctx, &snips[i]); err != nil {
			return err
		}
	}
	return nil
}
