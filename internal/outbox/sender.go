package outbox

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/huddle/internal/backend"
	"github.com/matheus3301/huddle/internal/bus"
	"github.com/matheus3301/huddle/internal/metrics"
	"github.com/matheus3301/huddle/internal/store"
	"go.uber.org/zap"
)

// ErrEmpty is returned for a draft with neither content nor attachments.
var ErrEmpty = errors.New("message is empty")

const defaultSendTimeout = 15 * time.Second

// MessageSender submits messages to the backend.
type MessageSender interface {
	SendMessage(ctx context.Context, req backend.SendRequest) (store.Message, error)
}

// Journal persists outgoing messages so failures survive a restart.
type Journal interface {
	QueueOutbox(clientID, conversationID, content string, kind store.ContentKind) error
	MarkOutboxSent(clientID, serverID string) error
	MarkOutboxFailed(clientID, reason string) error
	DropOutbox(clientID string) error
}

// Draft is a message the user is about to send.
type Draft struct {
	ConversationID string             `json:"conversation_id"`
	Content        string             `json:"content"`
	Kind           store.ContentKind  `json:"kind,omitempty"`
	ReplyTo        *store.ReplyRef    `json:"reply_to,omitempty"`
	Attachments    []store.Attachment `json:"attachments,omitempty"`
}

// Ack is the payload of message.send_ack.
type Ack struct {
	ClientID       string `json:"client_id"`
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

// Failure is the payload of message.send_failed.
type Failure struct {
	ClientID       string `json:"client_id"`
	ConversationID string `json:"conversation_id"`
	Error          string `json:"error"`
}

var (
	AckTopic     = bus.NewTopic[Ack](bus.KindMessageSendAck)
	FailureTopic = bus.NewTopic[Failure](bus.KindMessageSendFailed)
)

// Config holds sender timings.
type Config struct {
	SendTimeout time.Duration
}

// Sender inserts outgoing messages optimistically and confirms them with the
// backend in the background. Failed sends are never retried automatically.
type Sender struct {
	cfg     Config
	store   *store.Store
	api     MessageSender
	journal Journal
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewSender creates a sender. journal may be nil.
func NewSender(cfg Config, s *store.Store, api MessageSender, journal Journal, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Sender {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	return &Sender{
		cfg:     cfg,
		store:   s,
		api:     api,
		journal: journal,
		bus:     b,
		metrics: m,
		logger:  logger,
	}
}

// Send inserts d as a sending message under a temporary id and submits it.
// The returned message is the optimistic local copy.
func (s *Sender) Send(ctx context.Context, d Draft) (store.Message, error) {
	if strings.TrimSpace(d.Content) == "" && len(d.Attachments) == 0 {
		return store.Message{}, ErrEmpty
	}
	if _, ok := s.store.Conversation(d.ConversationID); !ok {
		return store.Message{}, fmt.Errorf("send to %s: %w", d.ConversationID, store.ErrUnknownConversation)
	}
	if d.Kind == "" {
		d.Kind = store.ContentText
	}

	id := "tmp-" + uuid.NewString()
	local := store.Message{
		ID:             id,
		ConversationID: d.ConversationID,
		ClientID:       id,
		Content:        d.Content,
		Kind:           d.Kind,
		CreatedAt:      time.Now(),
		Status:         store.StatusSending,
		Mine:           true,
		ReplyTo:        d.ReplyTo,
		Attachments:    slices.Clone(d.Attachments),
	}
	s.store.AppendMessage(local)
	if s.journal != nil {
		if err := s.journal.QueueOutbox(id, d.ConversationID, d.Content, d.Kind); err != nil {
			s.logger.Warn("failed to journal outgoing message", zap.String("client_id", id), zap.Error(err))
		}
	}

	// The send outlives the caller's request.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SendTimeout)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.deliver(ctx, local)
	}()
	return local, nil
}

func (s *Sender) deliver(ctx context.Context, local store.Message) {
	req := backend.SendRequest{
		ConversationID: local.ConversationID,
		ClientID:       local.ClientID,
		Content:        local.Content,
		Kind:           local.Kind,
		Attachments:    local.Attachments,
	}
	if local.ReplyTo != nil {
		req.ReplyToID = local.ReplyTo.ID
	}

	server, err := s.api.SendMessage(ctx, req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("send timed out after %s: %w", s.cfg.SendTimeout, err)
		}
		s.fail(local, err)
		return
	}

	if err := s.store.ReplaceMessage(local.ID, server); err != nil {
		s.logger.Warn("failed to confirm local message", zap.String("client_id", local.ID), zap.Error(err))
	}
	if s.journal != nil {
		if err := s.journal.MarkOutboxSent(local.ID, server.ID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_id", local.ID))
		}
	}
	s.metrics.Send("ok")
	s.logger.Info("message sent", zap.String("client_id", local.ID), zap.String("message_id", server.ID))
	AckTopic.Publish(s.bus, Ack{ClientID: local.ID, MessageID: server.ID, ConversationID: local.ConversationID})
}

func (s *Sender) fail(local store.Message, err error) {
	s.logger.Error("failed to send message", zap.Error(err), zap.String("client_id", local.ID))
	if uerr := s.store.UpdateStatus(local.ID, store.StatusFailed); uerr != nil {
		s.logger.Warn("failed to mark local message failed", zap.String("client_id", local.ID), zap.Error(uerr))
	}
	if s.journal != nil {
		if jerr := s.journal.MarkOutboxFailed(local.ID, err.Error()); jerr != nil {
			s.logger.Error("failed to mark failed", zap.Error(jerr), zap.String("client_id", local.ID))
		}
	}
	s.metrics.Send("failed")
	FailureTopic.Publish(s.bus, Failure{ClientID: local.ID, ConversationID: local.ConversationID, Error: err.Error()})
}

// Retry resubmits a failed local message under a fresh temporary id. The
// failed copy is removed.
func (s *Sender) Retry(ctx context.Context, id string) (store.Message, error) {
	m, ok := s.store.Message(id)
	if !ok {
		return store.Message{}, fmt.Errorf("retry %s: %w", id, store.ErrUnknownMessage)
	}
	if !m.Mine || m.Status != store.StatusFailed {
		return store.Message{}, fmt.Errorf("retry %s in status %s: %w", id, m.Status, ErrNotRetryable)
	}
	if err := s.store.RemoveMessage(id); err != nil {
		return store.Message{}, fmt.Errorf("retry %s: %w", id, err)
	}
	if s.journal != nil {
		if err := s.journal.DropOutbox(id); err != nil {
			s.logger.Warn("failed to drop journaled message", zap.String("client_id", id), zap.Error(err))
		}
	}
	return s.Send(ctx, Draft{
		ConversationID: m.ConversationID,
		Content:        m.Content,
		Kind:           m.Kind,
		ReplyTo:        m.ReplyTo,
		Attachments:    m.Attachments,
	})
}

// Wait blocks until in-flight sends finish.
func (s *Sender) Wait() {
	s.wg.Wait()
}
