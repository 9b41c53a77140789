package model

import "time"

// ArchivedMessage is the append-only transcript row written by the archive
// worker. It survives bulk resets.
type ArchivedMessage struct {
	ID                       uint      `gorm:"primaryKey" json:"id"`
	MessageID                string    `gorm:"size:36;not null;index" json:"messageId"`
	AuthorUserID             string    `gorm:"size:36;index" json:"authorUserId,omitempty"`
	IsAI                     bool      `gorm:"not null" json:"isAI"`
	ChatScope                ChatScope `gorm:"size:16;not null" json:"chatScope"`
	PrivateCounterpartUserID string    `gorm:"size:36" json:"privateCounterpartUserId,omitempty"`
	Content                  string    `gorm:"type:text;not null" json:"content"`
	Timestamp                time.Time `gorm:"not null" json:"timestamp"`
	ArchivedAt               time.Time `json:"archivedAt"`
}

func NewArchivedMessage(msg Message, at time.Time) ArchivedMessage {
	return ArchivedMessage{
		MessageID:                msg.ID,
		AuthorUserID:             msg.AuthorUserID,
		IsAI:                     msg.IsAI,
		ChatScope:                msg.ChatScope,
		PrivateCounterpartUserID: msg.PrivateCounterpartUserID,
		Content:                  msg.Content,
		Timestamp:                msg.Timestamp,
		ArchivedAt:               at,
	}
}
