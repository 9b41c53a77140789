package app

import (
	"context"

	"gopherchat/internal/model"
	"gopherchat/internal/realtime"
)

// Broadcaster fans events out to live connections.
type Broadcaster interface {
	BroadcastAll(e realtime.Event)
	BroadcastExcept(clientID string, e realtime.Event)
	BroadcastToUser(userID string, e realtime.Event)
}

type HistoryCache interface {
	Key(ctx context.Context, scope model.ChatScope, counterpartUserID string, limit int) (string, error)
	Get(ctx context.Context, key string) ([]model.Message, bool, error)
	Set(ctx context.Context, key string, messages []model.Message) error
	Invalidate(ctx context.Context, scope model.ChatScope, counterpartUserID string) error
	InvalidateAll(ctx context.Context) error
}

// ArchivePublisher ships completed messages to the transcript archive.
type ArchivePublisher interface {
	Publish(ctx context.Context, msg model.Message) error
}

// TurnDispatcher starts an AI turn for a triggering message without waiting
// for it.
type TurnDispatcher interface {
	Dispatch(trigger model.Message) bool
}

// publishToScope delivers e to the connections allowed to see msg.
func publishToScope(b Broadcaster, msg *model.Message, e realtime.Event) {
	if msg.ChatScope == model.ScopePrivate {
		b.BroadcastToUser(msg.PrivateCounterpartUserID, e)
		return
	}
	b.BroadcastAll(e)
}
