package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"gopherchat/internal/metrics"
	applog "gopherchat/internal/pkg/log"
)

var (
	ErrClientClosed     = errors.New("client is no longer connected")
	ErrIdentityConflict = errors.New("connection is bound to another user")
)

// PresenceStore records whether a user has a live connection.
type PresenceStore interface {
	SetOnline(ctx context.Context, userID string, online bool) error
}

// Hub is the registry of live connections and the fan-out point for events.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	presence PresenceStore
	logger   zerolog.Logger
}

func NewHub(presence PresenceStore, logger zerolog.Logger) *Hub {
	return &Hub{
		clients:  make(map[*Client]struct{}),
		presence: presence,
		logger:   logger,
	}
}

// Register adds a client with no identity attached.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.ConnectionsActive.Inc()
}

// Authenticate attaches userID to c, marks the user online and announces it.
// A connection keeps its first identity: repeating it is a no-op and a
// different one is rejected with ErrIdentityConflict.
func (h *Hub) Authenticate(ctx context.Context, c *Client, userID string) error {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return ErrClientClosed
	}
	switch c.userID {
	case "":
		c.userID = userID
	case userID:
		h.mu.Unlock()
		return nil
	default:
		h.mu.Unlock()
		return ErrIdentityConflict
	}
	h.mu.Unlock()

	if err := h.presence.SetOnline(ctx, userID, true); err != nil {
		h.logger.Error().Err(err).
			Str(applog.FieldOperation, "authenticate").
			Str(applog.FieldClientID, c.ID).
			Str(applog.FieldUserID, userID).
			Msg("set online failed")
	}
	h.BroadcastAll(PresenceChanged{UserID: userID, IsOnline: true})
	return nil
}

// Deregister removes c and, when it was authenticated, marks its user
// offline and announces it. Calling it more than once is a no-op.
func (h *Hub) Deregister(ctx context.Context, c *Client) {
	h.mu.Lock()
	if c.gone {
		h.mu.Unlock()
		return
	}
	c.gone = true
	removed := h.removeLocked(c)
	userID := c.userID
	h.mu.Unlock()

	if removed {
		metrics.ConnectionsActive.Dec()
	}
	if userID == "" {
		return
	}

	if err := h.presence.SetOnline(ctx, userID, false); err != nil {
		h.logger.Error().Err(err).
			Str(applog.FieldOperation, "deregister").
			Str(applog.FieldClientID, c.ID).
			Str(applog.FieldUserID, userID).
			Msg("set offline failed")
	}
	h.BroadcastAll(PresenceChanged{UserID: userID, IsOnline: false})
}

func (h *Hub) BroadcastAll(e Event) {
	h.fanout(e, nil)
}

// BroadcastExcept sends e to every connection but the one with clientID.
func (h *Hub) BroadcastExcept(clientID string, e Event) {
	h.fanout(e, func(c *Client) bool { return c.ID != clientID })
}

// BroadcastToUser sends e to every connection authenticated as userID.
func (h *Hub) BroadcastToUser(userID string, e Event) {
	h.fanout(e, func(c *Client) bool { return c.userID == userID })
}

// Send delivers e to a single connection.
func (h *Hub) Send(c *Client, e Event) {
	h.fanout(e, func(other *Client) bool { return other == c })
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close drops every connection. Presence is left untouched.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
		metrics.ConnectionsActive.Dec()
	}
}

// fanout serializes e once and enqueues it to every client accepted by
// filter. Clients whose queue is full are dropped.
func (h *Hub) fanout(e Event, filter func(*Client) bool) {
	data, err := Encode(e)
	if err != nil {
		h.logger.Error().Err(err).Str(applog.FieldOperation, "broadcast").Msg("encode event failed")
		return
	}
	metrics.EventsBroadcast.WithLabelValues(string(e.Type())).Inc()

	var slow []*Client
	h.mu.RLock()
	for c := range h.clients {
		if filter != nil && !filter(c) {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.drop(c)
	}
}

func (h *Hub) drop(c *Client) {
	h.mu.Lock()
	removed := h.removeLocked(c)
	h.mu.Unlock()
	if !removed {
		return
	}
	metrics.ConnectionsActive.Dec()
	metrics.ClientsDropped.Inc()
	h.logger.Warn().
		Str(applog.FieldOperation, "broadcast").
		Str(applog.FieldClientID, c.ID).
		Msg("send queue full, dropping client")
}

func (h *Hub) removeLocked(c *Client) bool {
	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)
	if !c.sendClosed {
		close(c.send)
		c.sendClosed = true
	}
	return true
}
