package store

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/huddle/internal/bus"
	"github.com/matheus3301/huddle/internal/status"
)

var (
	// ErrUnknownConversation is returned when a mutation names a conversation the store does not hold.
	ErrUnknownConversation = errors.New("unknown conversation")
	// ErrUnknownMessage is returned when a mutation names a message the store does not hold.
	ErrUnknownMessage = errors.New("unknown message")
	// ErrBackward is returned when a status update would move a message backward.
	ErrBackward = errors.New("status cannot move backward")
)

// Change reasons carried on store.changed events.
const (
	ReasonConversations = "conversations"
	ReasonMessages      = "messages"
	ReasonStatus        = "status"
	ReasonUnread        = "unread"
	ReasonSelection     = "selection"
	ReasonRead          = "read"
	ReasonConnection    = "connection"
	ReasonNavigation    = "navigation"
	ReasonBanner        = "banner"
	ReasonEvicted       = "evicted"
)

// Topics published by the store after each committed mutation.
var (
	Changed          = bus.NewTopic[Change](bus.KindStoreChanged)
	MessageAdded     = bus.NewTopic[Message](bus.KindMessageNew)
	MessageUpdated   = bus.NewTopic[Message](bus.KindMessageStatus)
	ConversationSeen = bus.NewTopic[ConversationRead](bus.KindConversationRead)
)

// Store is the client-side source of truth for conversations, messages,
// unread counters and connection state. Every mutation is applied under one
// lock; observers are notified on the bus once the lock is released.
type Store struct {
	mu            sync.RWMutex
	bus           *bus.Bus
	version       uint64
	conversations map[string]*Conversation
	messages      map[string][]Message // by conversation, ordered by (CreatedAt, ID)
	index         map[string]string    // message id -> conversation id
	selected      string
	unreadTotal   int
	provisional   bool
	connection    status.Connection
	messagingOpen bool
	banner        string
}

// New creates an empty store.
func New(b *bus.Bus) *Store {
	return &Store{
		bus:           b,
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]Message),
		index:         make(map[string]string),
		connection:    status.ConnectionDisconnected,
	}
}

// pending collects notifications to publish after unlock.
type pending struct {
	changes []Change
	added   []Message
	updated []Message
	read    []ConversationRead
}

func (s *Store) publish(p pending) {
	for _, m := range p.added {
		MessageAdded.Publish(s.bus, m)
	}
	for _, m := range p.updated {
		MessageUpdated.Publish(s.bus, m)
	}
	for _, r := range p.read {
		ConversationSeen.Publish(s.bus, r)
	}
	for _, c := range p.changes {
		Changed.Publish(s.bus, c)
	}
}

func (s *Store) bump(p *pending, reason, convID string) {
	s.version++
	p.changes = append(p.changes, Change{Version: s.version, Reason: reason, ConversationID: convID})
}

// --- read API ---

// Conversations returns conversations of the given kind (all kinds when empty),
// most recently active first.
func (s *Store) Conversations(kind ConversationKind) []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversationsLocked(kind)
}

func (s *Store) conversationsLocked(kind ConversationKind) []Conversation {
	out := make([]Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		if kind != "" && c.Kind != kind {
			continue
		}
		out = append(out, c.clone())
	}
	slices.SortFunc(out, func(a, b Conversation) int {
		if c := cmp.Compare(lastAt(b), lastAt(a)); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func lastAt(c Conversation) int64 {
	if c.Last == nil {
		return 0
	}
	return c.Last.At.UnixNano()
}

// Conversation returns a single conversation.
func (s *Store) Conversation(id string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return Conversation{}, false
	}
	return c.clone(), true
}

// Messages returns the ordered messages of a conversation.
func (s *Store) Messages(conversationID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.messages[conversationID]
	out := make([]Message, len(list))
	for i, m := range list {
		out[i] = m.clone()
	}
	return out
}

// Message looks up a message by id.
func (s *Store) Message(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, list := s.locate(id)
	if i < 0 {
		return Message{}, false
	}
	return list[i].clone(), true
}

// Selected returns the selected conversation id, or "".
func (s *Store) Selected() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// UnreadTotal returns the current unread total.
func (s *Store) UnreadTotal() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unreadTotal
}

// Connection returns the current connection indicator.
func (s *Store) Connection() status.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connection
}

// MessagingOpen reports whether the user is on the messaging surface.
func (s *Store) MessagingOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messagingOpen
}

// IsViewing reports whether the user is looking at content of conversationID:
// the messaging surface is open and shows either the conversation list or that
// conversation.
func (s *Store) IsViewing(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.messagingOpen {
		return false
	}
	return s.selected == "" || s.selected == conversationID
}

// Snapshot returns a consistent copy of the top-level state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Version:       s.version,
		Connection:    string(s.connection),
		UnreadTotal:   s.unreadTotal,
		Provisional:   s.provisional,
		Selected:      s.selected,
		MessagingOpen: s.messagingOpen,
		Banner:        s.banner,
		Conversations: s.conversationsLocked(""),
	}
}

// --- mutation API ---

// UpsertConversations merges server-provided conversations. Server unread
// counters replace local ones.
func (s *Store) UpsertConversations(convs []Conversation) {
	if len(convs) == 0 {
		return
	}
	var p pending
	s.mu.Lock()
	for _, c := range convs {
		c := c.clone()
		if existing, ok := s.conversations[c.ID]; ok && c.Last == nil {
			c.Last = existing.Last
		}
		s.conversations[c.ID] = &c
	}
	s.bump(&p, ReasonConversations, "")
	s.mu.Unlock()
	s.publish(p)
}

// AppendMessage merges a single message. It reports whether the message was new.
func (s *Store) AppendMessage(m Message) bool {
	return len(s.MergeMessages(m.ConversationID, []Message{m})) == 1
}

// MergeMessages merges messages into a conversation by id, keeping the list
// ordered by creation time. Statuses of known messages only move forward.
// A server copy whose ClientID names a local message replaces it. Returns the
// messages that were not previously known.
func (s *Store) MergeMessages(conversationID string, msgs []Message) []Message {
	if len(msgs) == 0 {
		return nil
	}
	var p pending
	s.mu.Lock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		conv = &Conversation{ID: conversationID}
		s.conversations[conversationID] = conv
	}
	list := s.messages[conversationID]
	touched := false
	for _, in := range msgs {
		in = in.clone()
		in.ConversationID = conversationID
		if i := indexOf(list, in.ID); i >= 0 {
			merged, changed := mergeMessage(list[i], in)
			if changed {
				list[i] = merged
				p.updated = append(p.updated, merged.clone())
				touched = true
			}
			continue
		}
		if in.ClientID != "" {
			if i := indexOf(list, in.ClientID); i >= 0 {
				local := list[i]
				if local.Status != StatusFailed && !local.Status.CanAdvance(in.Status) {
					in.Status = local.Status
				}
				in.Mine = in.Mine || local.Mine
				delete(s.index, local.ID)
				list = slices.Delete(list, i, i+1)
				list = insertSorted(list, in)
				s.index[in.ID] = conversationID
				// A failed copy never advances. The server accepted the
				// send anyway, so its copy is announced as a new message.
				if local.Status == StatusFailed {
					p.added = append(p.added, in.clone())
				} else {
					p.updated = append(p.updated, in.clone())
				}
				touched = true
				continue
			}
		}
		list = insertSorted(list, in)
		s.index[in.ID] = conversationID
		p.added = append(p.added, in.clone())
		touched = true
	}
	if touched {
		s.messages[conversationID] = list
		if n := len(list); n > 0 {
			newest := list[n-1]
			if conv.Last == nil || !newest.CreatedAt.Before(conv.Last.At) {
				conv.Last = &LastMessage{Content: newest.Content, Sender: newest.Sender.Name, At: newest.CreatedAt}
			}
		}
		s.bump(&p, ReasonMessages, conversationID)
	}
	s.mu.Unlock()
	s.publish(p)
	return p.added
}

// mergeMessage applies in over cur. Content may change; status only moves forward.
func mergeMessage(cur, in Message) (Message, bool) {
	next := cur
	changed := false
	if in.Content != "" && in.Content != cur.Content {
		next.Content = in.Content
		changed = true
	}
	if in.Sender.Name != "" && in.Sender != cur.Sender {
		next.Sender = in.Sender
		changed = true
	}
	if len(in.Attachments) > 0 && len(cur.Attachments) == 0 {
		next.Attachments = in.Attachments
		changed = true
	}
	if in.ReplyTo != nil && cur.ReplyTo == nil {
		next.ReplyTo = in.ReplyTo
		changed = true
	}
	if cur.Status.CanAdvance(in.Status) {
		next.Status = in.Status
		changed = true
	}
	return next, changed
}

// UpdateStatus advances the status of a message. Backward moves are rejected
// with ErrBackward and leave the message untouched.
func (s *Store) UpdateStatus(id string, next DeliveryStatus) error {
	var p pending
	s.mu.Lock()
	i, list := s.locate(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("update status of %s: %w", id, ErrUnknownMessage)
	}
	cur := list[i].Status
	if !cur.CanAdvance(next) {
		s.mu.Unlock()
		return fmt.Errorf("%s -> %s: %w", cur, next, ErrBackward)
	}
	list[i].Status = next
	p.updated = append(p.updated, list[i].clone())
	s.bump(&p, ReasonStatus, list[i].ConversationID)
	s.mu.Unlock()
	s.publish(p)
	return nil
}

// ReplaceMessage swaps a local message that is still sending for its
// server-confirmed copy.
func (s *Store) ReplaceMessage(localID string, m Message) error {
	var p pending
	s.mu.Lock()
	i, list := s.locate(localID)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("replace %s: %w", localID, ErrUnknownMessage)
	}
	local := list[i]
	if local.Status != StatusSending {
		s.mu.Unlock()
		return fmt.Errorf("replace %s in status %s: %w", localID, local.Status, ErrBackward)
	}
	convID := local.ConversationID
	m = m.clone()
	m.ConversationID = convID
	m.Mine = true
	if m.ClientID == "" {
		m.ClientID = localID
	}
	if !local.Status.CanAdvance(m.Status) {
		m.Status = StatusSent
	}
	list = slices.Delete(list, i, i+1)
	delete(s.index, localID)
	if j := indexOf(list, m.ID); j >= 0 {
		// The server copy arrived first through a poll.
		merged, _ := mergeMessage(list[j], m)
		merged.Mine = true
		if merged.ClientID == "" {
			merged.ClientID = localID
		}
		list[j] = merged
		m = merged
	} else {
		list = insertSorted(list, m)
		s.index[m.ID] = convID
	}
	s.messages[convID] = list
	p.updated = append(p.updated, m.clone())
	s.bump(&p, ReasonMessages, convID)
	s.mu.Unlock()
	s.publish(p)
	return nil
}

// RemoveMessage drops a message from the store.
func (s *Store) RemoveMessage(id string) error {
	var p pending
	s.mu.Lock()
	i, list := s.locate(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("remove %s: %w", id, ErrUnknownMessage)
	}
	convID := list[i].ConversationID
	s.messages[convID] = slices.Delete(list, i, i+1)
	delete(s.index, id)
	s.bump(&p, ReasonMessages, convID)
	s.mu.Unlock()
	s.publish(p)
	return nil
}

// SetUnreadTotal records the server-reported unread total, replacing any
// provisional local adjustment.
func (s *Store) SetUnreadTotal(n int) {
	if n < 0 {
		n = 0
	}
	var p pending
	s.mu.Lock()
	if s.unreadTotal == n && !s.provisional {
		s.mu.Unlock()
		return
	}
	s.unreadTotal = n
	s.provisional = false
	s.bump(&p, ReasonUnread, "")
	s.mu.Unlock()
	s.publish(p)
}

// SelectConversation makes id the selected conversation (empty clears the
// selection). Its unread counter is zeroed and subtracted from the total as a
// provisional adjustment that the next SetUnreadTotal confirms or corrects.
func (s *Store) SelectConversation(id string) error {
	var p pending
	s.mu.Lock()
	if id != "" {
		conv, ok := s.conversations[id]
		if !ok {
			s.mu.Unlock()
			return fmt.Errorf("select %s: %w", id, ErrUnknownConversation)
		}
		s.clearUnreadLocked(conv)
	}
	s.selected = id
	s.bump(&p, ReasonSelection, id)
	s.mu.Unlock()
	s.publish(p)
	return nil
}

func (s *Store) clearUnreadLocked(conv *Conversation) int {
	n := conv.Unread
	if n == 0 {
		return 0
	}
	conv.Unread = 0
	s.unreadTotal = max(s.unreadTotal-n, 0)
	s.provisional = true
	return n
}

// MarkConversationRead records a server-confirmed read of a conversation.
// Incoming messages in it advance to read.
func (s *Store) MarkConversationRead(id string) error {
	var p pending
	s.mu.Lock()
	conv, ok := s.conversations[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("mark read %s: %w", id, ErrUnknownConversation)
	}
	n := s.clearUnreadLocked(conv)
	list := s.messages[id]
	for i := range list {
		if list[i].Mine || !list[i].Status.CanAdvance(StatusRead) {
			continue
		}
		list[i].Status = StatusRead
		p.updated = append(p.updated, list[i].clone())
	}
	p.read = append(p.read, ConversationRead{ConversationID: id, Count: n})
	s.bump(&p, ReasonRead, id)
	s.mu.Unlock()
	s.publish(p)
	return nil
}

// SetConnection records the connection indicator.
func (s *Store) SetConnection(c status.Connection) {
	var p pending
	s.mu.Lock()
	if s.connection == c {
		s.mu.Unlock()
		return
	}
	s.connection = c
	s.bump(&p, ReasonConnection, "")
	s.mu.Unlock()
	s.publish(p)
}

// SetMessagingOpen records whether the user is on the messaging surface.
func (s *Store) SetMessagingOpen(open bool) {
	var p pending
	s.mu.Lock()
	if s.messagingOpen == open {
		s.mu.Unlock()
		return
	}
	s.messagingOpen = open
	if !open {
		s.selected = ""
	}
	s.bump(&p, ReasonNavigation, "")
	s.mu.Unlock()
	s.publish(p)
}

// SetBanner sets or clears (empty msg) the non-fatal error banner.
func (s *Store) SetBanner(msg string) {
	var p pending
	s.mu.Lock()
	if s.banner == msg {
		s.mu.Unlock()
		return
	}
	s.banner = msg
	s.bump(&p, ReasonBanner, "")
	s.mu.Unlock()
	s.publish(p)
}

// Evict drops a conversation and its messages from memory.
func (s *Store) Evict(id string) {
	var p pending
	s.mu.Lock()
	if _, ok := s.conversations[id]; !ok {
		s.mu.Unlock()
		return
	}
	for _, m := range s.messages[id] {
		delete(s.index, m.ID)
	}
	delete(s.messages, id)
	delete(s.conversations, id)
	if s.selected == id {
		s.selected = ""
	}
	s.bump(&p, ReasonEvicted, id)
	s.mu.Unlock()
	s.publish(p)
}

func (s *Store) locate(id string) (int, []Message) {
	convID, ok := s.index[id]
	if !ok {
		return -1, nil
	}
	list := s.messages[convID]
	return indexOf(list, id), list
}

func indexOf(list []Message, id string) int {
	return slices.IndexFunc(list, func(m Message) bool { return m.ID == id })
}

func compareMessages(a, b Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func insertSorted(list []Message, m Message) []Message {
	i, _ := slices.BinarySearchFunc(list, m, compareMessages)
	return slices.Insert(list, i, m)
}
