package archive

import (
	"encoding/json"
	"time"

	"github.com/matheus3301/huddle/internal/store"
)

// OutboxEntry is a journaled outgoing message.
type OutboxEntry struct {
	ID             int64
	ClientID       string
	ConversationID string
	Body           string
	Kind           store.ContentKind
	Status         string // queued, sent, failed
	ErrorMessage   string
	ServerMsgID    string
	CreatedAt      time.Time
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message store.Message `json:"message"`
	Snippet string        `json:"snippet"`
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// encodeJSON returns "" for nil values so empty columns stay empty.
func encodeJSON(v any, empty bool) (string, error) {
	if empty {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}
