package repository

import (
	"context"
	"errors"
	"time"

	"gopherchat/internal/model"
)

var ErrUsernameTaken = errors.New("username already exists")

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// MessageQuery addresses one visibility partition. Typing placeholders are
// never returned.
type MessageQuery struct {
	Scope             model.ChatScope
	CounterpartUserID string
	Limit             int
	ExcludeID         string
}

func (q MessageQuery) normalizedLimit() int {
	if q.Limit <= 0 {
		return DefaultListLimit
	}
	if q.Limit > MaxListLimit {
		return MaxListLimit
	}
	return q.Limit
}

// Store is the persistence port for users and messages. Lookups of unknown
// ids return (nil, nil).
type Store interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUsersByIDs(ctx context.Context, ids []string) (map[string]model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	SetOnline(ctx context.Context, userID string, online bool) error

	CreateMessage(ctx context.Context, msg *model.Message) error
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	UpdateMessageContent(ctx context.Context, id, content string) error
	ListMessages(ctx context.Context, query MessageQuery) ([]model.Message, error)
	// ReplaceTyping atomically deletes the user's typing placeholders and,
	// when placeholder is non-nil, stores it as the only one.
	ReplaceTyping(ctx context.Context, userID string, placeholder *model.Message) (int64, error)
	ListTypingBefore(ctx context.Context, before time.Time) ([]model.Message, error)
	DeleteMessage(ctx context.Context, id string) error

	Reset(ctx context.Context) error
}
