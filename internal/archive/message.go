package archive

import (
	"fmt"
	"slices"
	"time"

	"github.com/matheus3301/huddle/internal/store"
)

// UpsertMessage inserts or updates a message (idempotent on conversation_id + msg_id).
func (db *DB) UpsertMessage(m store.Message) error {
	replyTo, err := encodeJSON(m.ReplyTo, m.ReplyTo == nil)
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}
	attachments, err := encodeJSON(m.Attachments, len(m.Attachments) == 0)
	if err != nil {
		return fmt.Errorf("encode attachments: %w", err)
	}
	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO messages (conversation_id, msg_id, client_id, sender_id, sender_name, sender_avatar, body, kind, mine, status, reply_to, attachments, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
			client_id = excluded.client_id,
			sender_name = excluded.sender_name,
			sender_avatar = excluded.sender_avatar,
			body = excluded.body,
			status = excluded.status,
			reply_to = excluded.reply_to,
			attachments = excluded.attachments,
			updated_at = excluded.updated_at`,
		m.ConversationID, m.ID, m.ClientID, m.Sender.ID, m.Sender.Name, m.Sender.Avatar, m.Content,
		string(m.Kind), m.Mine, string(m.Status), replyTo, attachments, millis(m.CreatedAt), now)
	return err
}

// DeleteMessage removes one message.
func (db *DB) DeleteMessage(conversationID, msgID string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE conversation_id = ? AND msg_id = ?`, conversationID, msgID)
	return err
}

const messageColumns = `m.conversation_id, m.msg_id, m.client_id, m.sender_id, m.sender_name, m.sender_avatar, m.body, m.kind, m.mine, m.status, m.reply_to, m.attachments, m.created_at`

func scanMessage(r rowScanner, extra ...any) (store.Message, error) {
	var (
		m                    store.Message
		kind, status         string
		replyTo, attachments string
		createdAt            int64
	)
	dest := []any{&m.ConversationID, &m.ID, &m.ClientID, &m.Sender.ID, &m.Sender.Name, &m.Sender.Avatar,
		&m.Content, &kind, &m.Mine, &status, &replyTo, &attachments, &createdAt}
	if err := r.Scan(append(dest, extra...)...); err != nil {
		return m, err
	}
	m.Kind = store.ContentKind(kind)
	m.Status = store.DeliveryStatus(status)
	m.CreatedAt = fromMillis(createdAt)
	if replyTo != "" {
		m.ReplyTo = &store.ReplyRef{}
		if err := decodeJSON(replyTo, m.ReplyTo); err != nil {
			return m, fmt.Errorf("decode reply of %s: %w", m.ID, err)
		}
	}
	if err := decodeJSON(attachments, &m.Attachments); err != nil {
		return m, fmt.Errorf("decode attachments of %s: %w", m.ID, err)
	}
	return m, nil
}

// ListMessages returns up to limit messages of a conversation created before
// before (now when zero), oldest first.
func (db *DB) ListMessages(conversationID string, before time.Time, limit int) ([]store.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	beforeMs := time.Now().UnixMilli() + 1
	if !before.IsZero() {
		beforeMs = before.UnixMilli()
	}
	rows, err := db.Query(`SELECT `+messageColumns+`
		FROM messages m
		WHERE m.conversation_id = ? AND m.created_at < ?
		ORDER BY m.created_at DESC, m.msg_id DESC
		LIMIT ?`, conversationID, beforeMs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []store.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}
