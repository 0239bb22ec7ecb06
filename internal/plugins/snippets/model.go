// Package snippets is the record store for individual text snippets.
// Snippets are captured upstream (outside this service) and referenced by
// id from one or more series; this package only owns their persistence.
package snippets

// Snippet is a single short text contribution. MessageID is the opaque id
// of the source message and doubles as the storage key; AuthorID is the
// contributor. Content is stored verbatim.
type Snippet struct {
	MessageID string `json:"message_id"`
	AuthorID  string `json:"author_id"`
	Content   string `json:"content"`
}

// redisPrefix returns the key prefix all of this snippet's fields share.
func redisPrefix(messageID string) string {
	return "snippet:" + messageID
}
