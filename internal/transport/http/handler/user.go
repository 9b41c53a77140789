package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"gopherchat/internal/app"
	"gopherchat/internal/model"
	"gopherchat/internal/transport/http/response"
)

type UserHandler struct {
	userService *app.UserService
}

type CreateUserRequest struct {
	Username    string `json:"username" binding:"required"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	Avatar      string `json:"avatar"`
}

func NewUserHandler(userService *app.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

func (h *UserHandler) Create(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	user, err := h.userService.Create(c.Request.Context(), app.CreateUserInput{
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Role:        req.Role,
		Avatar:      req.Avatar,
	})
	if err != nil {
		writeError(c, "create user", err)
		return
	}

	response.OK(c, user)
}

func (h *UserHandler) List(c *gin.Context) {
	users, err := h.userService.List(c.Request.Context())
	if err != nil {
		writeError(c, "list users", err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	response.OK(c, users)
}

func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.userService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, "get user", err)
		return
	}
	response.OK(c, user)
}

// ResetAll wipes users, messages and uploads.
func (h *UserHandler) ResetAll(c *gin.Context) {
	if err := h.userService.Reset(c.Request.Context()); err != nil {
		writeError(c, "reset", err)
		return
	}
	response.OK(c, gin.H{"deleted": true})
}
