package store

import (
	"slices"
	"time"
)

// ConversationKind classifies a conversation.
type ConversationKind string

const (
	KindGroup  ConversationKind = "group"
	KindDirect ConversationKind = "direct"
	KindSystem ConversationKind = "system"
)

// ContentKind classifies message content.
type ContentKind string

const (
	ContentText         ContentKind = "text"
	ContentImage        ContentKind = "image"
	ContentFile         ContentKind = "file"
	ContentSystem       ContentKind = "system"
	ContentAnnouncement ContentKind = "announcement"
)

// DeliveryStatus is the lifecycle position of a message.
type DeliveryStatus string

const (
	StatusSending   DeliveryStatus = "sending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

var statusRank = map[DeliveryStatus]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// Valid reports whether s is a known status.
func (s DeliveryStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok || s == StatusFailed
}

// CanAdvance reports whether a message in status s may move to next.
// Statuses only move forward; failed is reachable from sending alone and is terminal.
func (s DeliveryStatus) CanAdvance(next DeliveryStatus) bool {
	if s == StatusFailed {
		return false
	}
	if next == StatusFailed {
		return s == StatusSending
	}
	from, ok := statusRank[s]
	if !ok {
		return next.Valid()
	}
	to, ok := statusRank[next]
	return ok && to > from
}

// Sender identifies who wrote a message.
type Sender struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// ReplyRef points at the message being replied to.
type ReplyRef struct {
	ID         string `json:"id"`
	Snippet    string `json:"snippet"`
	SenderName string `json:"sender_name"`
}

// Attachment is a file carried by a message.
type Attachment struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Message is a single message in a conversation.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	ClientID       string         `json:"client_id,omitempty"`
	Sender         Sender         `json:"sender"`
	Content        string         `json:"content"`
	Kind           ContentKind    `json:"kind"`
	CreatedAt      time.Time      `json:"created_at"`
	Status         DeliveryStatus `json:"status"`
	Mine           bool           `json:"mine,omitempty"`
	ReplyTo        *ReplyRef      `json:"reply_to,omitempty"`
	Attachments    []Attachment   `json:"attachments,omitempty"`
}

func (m Message) clone() Message {
	if m.ReplyTo != nil {
		r := *m.ReplyTo
		m.ReplyTo = &r
	}
	m.Attachments = slices.Clone(m.Attachments)
	return m
}

// LastMessage is the denormalized summary of a conversation's newest message.
type LastMessage struct {
	Content string    `json:"content"`
	Sender  string    `json:"sender"`
	At      time.Time `json:"at"`
}

// Conversation is a group, direct or system thread.
type Conversation struct {
	ID           string           `json:"id"`
	Kind         ConversationKind `json:"kind"`
	Name         string           `json:"name"`
	Participants []string         `json:"participants"`
	Last         *LastMessage     `json:"last_message,omitempty"`
	Unread       int              `json:"unread"`
}

func (c Conversation) clone() Conversation {
	c.Participants = slices.Clone(c.Participants)
	if c.Last != nil {
		l := *c.Last
		c.Last = &l
	}
	return c
}

// Snapshot is a consistent read of the whole store.
type Snapshot struct {
	Version       uint64         `json:"version"`
	Connection    string         `json:"connection"`
	UnreadTotal   int            `json:"unread_total"`
	Provisional   bool           `json:"provisional"`
	Selected      string         `json:"selected,omitempty"`
	MessagingOpen bool           `json:"messaging_open"`
	Banner        string         `json:"banner,omitempty"`
	Conversations []Conversation `json:"conversations"`
}

// Change describes a committed mutation.
type Change struct {
	Version        uint64
	Reason         string
	ConversationID string
}

// ConversationRead is published when a conversation is marked read.
type ConversationRead struct {
	ConversationID string
	Count          int
}
