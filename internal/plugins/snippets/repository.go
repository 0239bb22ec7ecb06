package snippets

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/basilbot/basil/internal/apperror"
)

// SnippetRepository defines the data access contract for snippet storage.
type SnippetRepository interface {
	// Load reads a snippet by message id. Both the content and author keys
	// must be present; a missing key means the snippet does not exist.
	Load(ctx context.Context, messageID string) (*Snippet, error)

	// Save writes both snippet fields in one atomic pipeline. Idempotent.
	Save(ctx context.Context, s *Snippet) error
}

// redisSnippetRepository implements SnippetRepository on Redis.
type redisSnippetRepository struct {
	rdb *redis.Client
}

// NewSnippetRepository creates a snippet repository backed by the given client.
func NewSnippetRepository(rdb *redis.Client) SnippetRepository {
	return &redisSnippetRepository{rdb: rdb}
}

// Load reads the content and author keys for the snippet in one MGET.
func (r *redisSnippetRepository) Load(ctx context.Context, messageID string) (*Snippet, error) {
	prefix := redisPrefix(messageID)

	vals, err := r.rdb.MGet(ctx, prefix+":content", prefix+":author").Result()
	if err != nil {
		return nil, apperror.NewUnavailable(fmt.Errorf("loading snippet %s: %w", messageID, err))
	}

	content, okContent := vals[0].(string)
	author, okAuthor := vals[1].(string)
	if !okContent || !okAuthor {
		return nil, apperror.NewNotFound("snippet not found")
	}

	return &Snippet{
		MessageID: messageID,
		AuthorID:  author,
		Content:   content,
	}, nil
}

// Save writes the snippet's fields as one MULTI/EXEC transaction so a
// snippet is never observable with only one of its two keys.
func (r *redisSnippetRepository) Save(ctx context.Context, s *Snippet) error {
	if s.MessageID == "" {
		return apperror.NewValidation("snippet message id is required")
	}
	prefix := redisPrefix(s.MessageID)

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, prefix+":content", s.Content, 0)
	pipe.Set(ctx, prefix+":author", s.AuthorID, 0)

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return apperror.NewUnavailable(fmt.Errorf("saving snippet %s: %w", s.MessageID, err))
	}
	return nil
}
