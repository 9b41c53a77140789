package model

import (
	"time"

	"github.com/google/uuid"
)

// ChatScope partitions messages by visibility.
type ChatScope string

const (
	ScopeGeneral ChatScope = "general"
	ScopePrivate ChatScope = "private"
)

func (s ChatScope) Valid() bool {
	return s == ScopeGeneral || s == ScopePrivate
}

type Attachment struct {
	URL          string `json:"url"`
	MimeType     string `json:"mimeType"`
	OriginalName string `json:"originalName"`
}

// Message is a chat utterance, an AI reply being streamed, or a typing
// placeholder (IsTyping, empty Content).
type Message struct {
	ID                       string       `gorm:"primaryKey;size:36" json:"id"`
	Content                  string       `gorm:"type:text;not null" json:"content"`
	AuthorUserID             string       `gorm:"size:36;index" json:"authorUserId,omitempty"`
	IsAI                     bool         `gorm:"not null;default:false" json:"isAI"`
	Timestamp                time.Time    `gorm:"not null;index" json:"timestamp"`
	IsTyping                 bool         `gorm:"not null;default:false;index" json:"isTyping"`
	ChatScope                ChatScope    `gorm:"size:16;not null;index:idx_message_scope" json:"chatScope"`
	PrivateCounterpartUserID string       `gorm:"size:36;index:idx_message_scope" json:"privateCounterpartUserId,omitempty"`
	Attachments              []Attachment `gorm:"serializer:json" json:"attachments,omitempty"`

	Author *User `gorm:"-" json:"author,omitempty"`
}

// NewMessageID returns a UUIDv7. Ids from one process sort in creation
// order, which list queries rely on to break timestamp ties.
func NewMessageID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// VisibleTo reports whether the message belongs to the partition addressed
// by scope and counterpart.
func (m *Message) VisibleTo(scope ChatScope, counterpartUserID string) bool {
	if m.ChatScope != scope {
		return false
	}
	if scope == ScopePrivate {
		return m.PrivateCounterpartUserID == counterpartUserID
	}
	return true
}
