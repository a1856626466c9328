package archive

import (
	"time"

	"github.com/matheus3301/huddle/internal/store"
)

// QueueOutbox journals a message that is about to be sent.
func (db *DB) QueueOutbox(clientID, conversationID, body string, kind store.ContentKind) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (client_id, conversation_id, body, kind, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'queued', ?, ?)
		ON CONFLICT(client_id) DO NOTHING`,
		clientID, conversationID, body, string(kind), now, now)
	return err
}

// MarkOutboxSent records the server id of a confirmed message.
func (db *DB) MarkOutboxSent(clientID, serverMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sent', server_msg_id = ?, updated_at = ? WHERE client_id = ?`, serverMsgID, now, clientID)
	return err
}

// MarkOutboxFailed records why a send failed.
func (db *DB) MarkOutboxFailed(clientID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE client_id = ?`, errMsg, now, clientID)
	return err
}

// DropOutbox forgets a journaled message along with its archived local copy.
func (db *DB) DropOutbox(clientID string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`DELETE FROM messages WHERE msg_id = ? AND mine = 1`, clientID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM outbox WHERE client_id = ?`, clientID); err != nil {
		return err
	}
	return tx.Commit()
}

// OutboxByStatus returns journaled messages in the given status, oldest first.
func (db *DB) OutboxByStatus(status string) ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT id, client_id, conversation_id, body, kind, status, error_message, server_msg_id, created_at
		FROM outbox WHERE status = ? ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var (
			e         OutboxEntry
			kind      string
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.ClientID, &e.ConversationID, &e.Body, &kind, &e.Status, &e.ErrorMessage, &e.ServerMsgID, &createdAt); err != nil {
			return nil, err
		}
		e.Kind = store.ContentKind(kind)
		e.CreatedAt = fromMillis(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
