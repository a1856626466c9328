package archive

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/huddle/internal/store"
)

// UpsertConversation inserts or updates a conversation record.
func (db *DB) UpsertConversation(c store.Conversation) error {
	participants, err := encodeJSON(c.Participants, false)
	if err != nil {
		return fmt.Errorf("encode participants: %w", err)
	}
	var last store.LastMessage
	if c.Last != nil {
		last = *c.Last
	}
	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO conversations (id, kind, name, participants, unread_count, last_message_at, last_message_preview, last_message_sender, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name,
			participants = excluded.participants,
			unread_count = excluded.unread_count,
			last_message_at = excluded.last_message_at,
			last_message_preview = excluded.last_message_preview,
			last_message_sender = excluded.last_message_sender,
			updated_at = excluded.updated_at`,
		c.ID, string(c.Kind), c.Name, participants, c.Unread, millis(last.At), last.Content, last.Sender, now)
	return err
}

const conversationColumns = `id, kind, name, participants, unread_count, last_message_at, last_message_preview, last_message_sender`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(r rowScanner) (store.Conversation, error) {
	var (
		c            store.Conversation
		kind         string
		participants string
		lastAt       int64
		last         store.LastMessage
	)
	if err := r.Scan(&c.ID, &kind, &c.Name, &participants, &c.Unread, &lastAt, &last.Content, &last.Sender); err != nil {
		return c, err
	}
	c.Kind = store.ConversationKind(kind)
	if err := decodeJSON(participants, &c.Participants); err != nil {
		return c, fmt.Errorf("decode participants of %s: %w", c.ID, err)
	}
	if lastAt != 0 {
		last.At = fromMillis(lastAt)
		c.Last = &last
	}
	return c, nil
}

// ListConversations returns conversations sorted by last activity descending.
func (db *DB) ListConversations(limit int) ([]store.Conversation, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := db.Query(`SELECT `+conversationColumns+`
		FROM conversations
		ORDER BY last_message_at DESC, id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []store.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation, or nil when it is not archived.
func (db *DB) GetConversation(id string) (*store.Conversation, error) {
	c, err := scanConversation(db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// DeleteConversation removes a conversation and its messages.
func (db *DB) DeleteConversation(id string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}
