package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheus3301/huddle/internal/store"
)

// ErrUnauthorized marks a session-level auth failure. It is fatal to the
// realtime state of the session and is never retried.
var ErrUnauthorized = errors.New("backend: unauthorized")

// StatusError is a non-auth error response from the backend.
type StatusError struct {
	Method string
	Path   string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.Code)
}

// SendRequest describes an outgoing message.
type SendRequest struct {
	ConversationID string             `json:"-"`
	ClientID       string             `json:"client_id"`
	Content        string             `json:"content"`
	Kind           store.ContentKind  `json:"kind"`
	ReplyToID      string             `json:"reply_to_id,omitempty"`
	Attachments    []store.Attachment `json:"attachments,omitempty"`
}

// API is the collaboration backend as consumed by the realtime core.
type API interface {
	UnreadTotal(ctx context.Context) (int, error)
	LatestUnread(ctx context.Context, limit int) ([]store.Message, error)
	Conversations(ctx context.Context, kind store.ConversationKind) ([]store.Conversation, error)
	Messages(ctx context.Context, conversationID string) ([]store.Message, error)
	SendMessage(ctx context.Context, req SendRequest) (store.Message, error)
	MarkRead(ctx context.Context, conversationID string) error
}

// IsAuth reports whether err is an auth failure.
func IsAuth(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
