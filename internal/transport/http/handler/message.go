package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"gopherchat/internal/app"
	"gopherchat/internal/model"
	"gopherchat/internal/transport/http/response"
)

type MessageHandler struct {
	chatService *app.ChatService
}

type SubmitMessageRequest struct {
	Content                  string             `json:"content"`
	AuthorUserID             string             `json:"authorUserId"`
	ChatScope                model.ChatScope    `json:"chatScope"`
	PrivateCounterpartUserID string             `json:"privateCounterpartUserId"`
	AIActive                 *bool              `json:"aiActive"`
	Attachments              []model.Attachment `json:"attachments"`
}

func NewMessageHandler(chatService *app.ChatService) *MessageHandler {
	return &MessageHandler{chatService: chatService}
}

func (h *MessageHandler) Submit(c *gin.Context) {
	var req SubmitMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	msg, err := h.chatService.Submit(c.Request.Context(), app.SubmitInput{
		Content:                  req.Content,
		AuthorUserID:             req.AuthorUserID,
		ChatScope:                req.ChatScope,
		PrivateCounterpartUserID: req.PrivateCounterpartUserID,
		AIActive:                 req.AIActive,
		Attachments:              req.Attachments,
	})
	if err != nil {
		writeError(c, "submit message", err)
		return
	}

	response.OK(c, msg)
}

func (h *MessageHandler) List(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	messages, err := h.chatService.ListMessages(c.Request.Context(), app.ListQuery{
		ChatScope:         model.ChatScope(c.Query("chatScope")),
		CounterpartUserID: c.Query("counterpartUserId"),
		Limit:             limit,
	})
	if err != nil {
		writeError(c, "list messages", err)
		return
	}
	if messages == nil {
		messages = []model.Message{}
	}

	response.OK(c, messages)
}
