package notify

import (
	"encoding/binary"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	bolt "go.etcd.io/bbolt"
)

// Ledger remembers which message ids have already been notified.
type Ledger interface {
	// Claim records id and reports whether it had not been seen before.
	Claim(id string) (bool, error)
}

const defaultLedgerSize = 4096

// MemoryLedger is a bounded in-process ledger. The least recently claimed
// ids are forgotten first.
type MemoryLedger struct {
	cache *lru.Cache
}

func NewMemoryLedger(size int) (*MemoryLedger, error) {
	if size <= 0 {
		size = defaultLedgerSize
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create ledger cache: %w", err)
	}
	return &MemoryLedger{cache: c}, nil
}

func (l *MemoryLedger) Claim(id string) (bool, error) {
	found, _ := l.cache.ContainsOrAdd(id, struct{}{})
	return !found, nil
}

func (l *MemoryLedger) Len() int { return l.cache.Len() }

var ledgerBucket = []byte("notified")

// BoltLedger persists claimed ids so a restarted daemon does not notify the
// same message twice. Entries older than ttl are pruned on open.
type BoltLedger struct {
	db  *bolt.DB
	ttl time.Duration
}

// OpenBoltLedger opens (creating if needed) the ledger at path.
func OpenBoltLedger(path string, ttl time.Duration) (*BoltLedger, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(ledgerBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init ledger: %w", err)
	}
	l := &BoltLedger{db: db, ttl: ttl}
	if ttl > 0 {
		if _, err := l.Prune(time.Now().Add(-ttl)); err != nil {
			db.Close()
			return nil, err
		}
	}
	return l, nil
}

func (l *BoltLedger) Claim(id string) (bool, error) {
	fresh := false
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(ledgerBucket)
		if b.Get([]byte(id)) != nil {
			return nil
		}
		fresh = true
		return b.Put([]byte(id), encodeTime(time.Now()))
	})
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", id, err)
	}
	return fresh, nil
}

// Prune drops entries claimed before cutoff.
func (l *BoltLedger) Prune(cutoff time.Time) (int, error) {
	var stale [][]byte
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(ledgerBucket)
		err := b.ForEach(func(k, v []byte) error {
			if len(v) != 8 || decodeTime(v).Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune ledger: %w", err)
	}
	return len(stale), nil
}

func (l *BoltLedger) Close() error {
	return l.db.Close()
}

func encodeTime(t time.Time) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(t.UnixNano()))
	return buf
}

func decodeTime(b []byte) time.Time {
	return time.Unix(0, int64(binary.BigEndian.Uint64(b)))
}
