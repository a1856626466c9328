package archive

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const keyUnreadTotal = "unread_total"

// SetCheckpoint stores a sync checkpoint value.
func (db *DB) SetCheckpoint(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// Checkpoint retrieves a sync checkpoint value. ok is false when unset.
func (db *DB) Checkpoint(key string) (value string, ok bool, err error) {
	err = db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// LoadBaseline returns the last reconciled unread total.
func (db *DB) LoadBaseline() (int, bool, error) {
	v, ok, err := db.Checkpoint(keyUnreadTotal)
	if err != nil || !ok {
		return 0, false, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("parse %s checkpoint %q: %w", keyUnreadTotal, v, err)
	}
	return n, true, nil
}

// SaveBaseline records the last reconciled unread total.
func (db *DB) SaveBaseline(n int) error {
	return db.SetCheckpoint(keyUnreadTotal, strconv.Itoa(n))
}
