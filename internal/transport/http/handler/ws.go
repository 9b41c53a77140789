package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"gopherchat/internal/app"
	"gopherchat/internal/config"
	applog "gopherchat/internal/pkg/log"
	"gopherchat/internal/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WSHandler struct {
	hub         *realtime.Hub
	chatService *app.ChatService
	userService *app.UserService
	wsCfg       config.WebSocketConfig
	logger      zerolog.Logger
}

func NewWSHandler(hub *realtime.Hub, chatService *app.ChatService, userService *app.UserService, wsCfg config.WebSocketConfig, logger zerolog.Logger) *WSHandler {
	return &WSHandler{
		hub:         hub,
		chatService: chatService,
		userService: userService,
		wsCfg:       wsCfg,
		logger:      logger,
	}
}

func (h *WSHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := realtime.NewClient(uuid.NewString(), h.hub, conn, h.wsCfg)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump(h.handleMessage)
}

func (h *WSHandler) handleMessage(client *realtime.Client, raw []byte) {
	logger := h.logger.With().Str(applog.FieldClientID, client.ID).Logger()
	// Connection work is not tied to any HTTP request.
	ctx := applog.WithLogger(context.Background(), logger)

	event, err := realtime.DecodeClientEvent(raw)
	if err != nil {
		h.hub.Send(client, realtime.ErrorEvent{Code: realtime.ErrCodeBadRequest, Message: err.Error()})
		return
	}

	switch e := event.(type) {
	case realtime.Auth:
		h.authenticate(ctx, client, e.UserID)

	case realtime.Typing:
		userID := client.UserID()
		if userID == "" {
			h.hub.Send(client, realtime.ErrorEvent{Code: realtime.ErrCodeUnauthorized, Message: "authenticate first"})
			return
		}
		if err := h.chatService.SetTyping(ctx, userID, e.IsTyping, client.ID); err != nil {
			logger.Error().Err(err).Str(applog.FieldUserID, userID).Msg("set typing failed")
			h.hub.Send(client, realtime.ErrorEvent{Code: realtime.ErrCodeInternalError, Message: "typing update failed"})
		}

	case realtime.Ping:
		h.hub.Send(client, realtime.Pong{})
	}
}

func (h *WSHandler) authenticate(ctx context.Context, client *realtime.Client, userID string) {
	logger := applog.Ctx(ctx)
	if _, err := h.userService.Get(ctx, userID); err != nil {
		if !errors.Is(err, app.ErrUserNotFound) && !errors.Is(err, app.ErrInvalidInput) {
			logger.Error().Err(err).Str(applog.FieldUserID, userID).Msg("auth lookup failed")
		}
		h.hub.Send(client, realtime.AuthResult{Success: false, Message: "unknown user"})
		return
	}

	if err := h.hub.Authenticate(ctx, client, userID); err != nil {
		if errors.Is(err, realtime.ErrIdentityConflict) {
			h.hub.Send(client, realtime.AuthResult{Success: false, UserID: client.UserID(), Message: "connection already authenticated as another user"})
		}
		return
	}
	h.hub.Send(client, realtime.AuthResult{Success: true, UserID: userID})
	logger.Info().Str(applog.FieldUserID, userID).Msg("client authenticated")
}
