package archive

import (
	"fmt"
	"time"

	"github.com/matheus3301/huddle/internal/store"
	"go.uber.org/zap"
)

const warmMessagesPerConversation = 50

// WarmResult describes what Warm loaded.
type WarmResult struct {
	Conversations int
	Messages      int
	Failed        int
}

// Warm loads archived content into s so it can be shown before the first
// fetch completes. Local messages left sending by a previous run are marked
// failed so the user can retry them.
func (db *DB) Warm(s *store.Store, logger *zap.Logger) (WarmResult, error) {
	var res WarmResult
	convs, err := db.ListConversations(0)
	if err != nil {
		return res, fmt.Errorf("warm conversations: %w", err)
	}
	s.UpsertConversations(convs)
	res.Conversations = len(convs)

	for _, c := range convs {
		msgs, err := db.ListMessages(c.ID, time.Time{}, warmMessagesPerConversation)
		if err != nil {
			return res, fmt.Errorf("warm messages of %s: %w", c.ID, err)
		}
		for i := range msgs {
			if msgs[i].Mine && msgs[i].Status == store.StatusSending {
				msgs[i].Status = store.StatusFailed
				res.Failed++
				if err := db.MarkOutboxFailed(msgs[i].ID, "interrupted by restart"); err != nil {
					logger.Warn("failed to mark interrupted send", zap.String("client_id", msgs[i].ID), zap.Error(err))
				}
			}
		}
		s.MergeMessages(c.ID, msgs)
		res.Messages += len(msgs)
	}

	if n, ok, err := db.LoadBaseline(); err != nil {
		logger.Warn("failed to load unread baseline", zap.Error(err))
	} else if ok {
		s.SetUnreadTotal(n)
	}

	logger.Info("archive warmed",
		zap.Int("conversations", res.Conversations),
		zap.Int("messages", res.Messages),
		zap.Int("interrupted_sends", res.Failed))
	return res, nil
}
