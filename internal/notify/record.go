package notify

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/matheus3301/huddle/internal/bus"
	"github.com/matheus3301/huddle/internal/store"
)

const snippetLimit = 100

// Record is what a surface displays for one new message.
type Record struct {
	ID               string    `json:"id"`
	ConversationID   string    `json:"conversation_id"`
	ConversationName string    `json:"conversation_name"`
	Sender           string    `json:"sender"`
	Snippet          string    `json:"snippet"`
	At               time.Time `json:"at"`
}

// FromMessage builds a record for m inside the named conversation.
func FromMessage(m store.Message, conversationName string) Record {
	return Record{
		ID:               m.ID,
		ConversationID:   m.ConversationID,
		ConversationName: conversationName,
		Sender:           m.Sender.Name,
		Snippet:          snippet(m),
		At:               m.CreatedAt,
	}
}

func snippet(m store.Message) string {
	text := strings.Join(strings.Fields(m.Content), " ")
	if text == "" {
		switch {
		case len(m.Attachments) > 0:
			text = "sent an attachment: " + m.Attachments[0].Name
		case m.Kind == store.ContentImage:
			text = "sent an image"
		default:
			text = "new message"
		}
	}
	if utf8.RuneCountInString(text) <= snippetLimit {
		return text
	}
	runes := []rune(text)
	return string(runes[:snippetLimit-3]) + "..."
}

// Title is the heading used by surfaces that have one.
func (r Record) Title() string {
	switch {
	case r.ConversationName != "" && r.Sender != "" && r.ConversationName != r.Sender:
		return r.Sender + " in " + r.ConversationName
	case r.Sender != "":
		return r.Sender
	case r.ConversationName != "":
		return r.ConversationName
	}
	return "huddle"
}

// Reasons a record leaves a surface.
const (
	ReasonExpired   = "expired"
	ReasonHidden    = "hidden"
	ReasonDismissed = "dismissed"
	ReasonViewed    = "viewed"
	ReasonMessaging = "messaging"
	ReasonEvicted   = "evicted"
)

// Shown is the payload of notify.shown.
type Shown struct {
	Surface string `json:"surface"`
	Record  Record `json:"record"`
}

// Cleared is the payload of notify.cleared.
type Cleared struct {
	Surface string `json:"surface"`
	ID      string `json:"id"`
	Reason  string `json:"reason"`
}

var (
	ShownTopic   = bus.NewTopic[Shown](bus.KindNotifyShown)
	ClearedTopic = bus.NewTopic[Cleared](bus.KindNotifyCleared)
)
