package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"gopherchat/internal/app"
	applog "gopherchat/internal/pkg/log"
	"gopherchat/internal/transport/http/response"
)

// writeError maps service errors onto the response envelope. Anything
// unrecognised is logged and reported as an internal error.
func writeError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrUserNotFound):
		response.Error(c, http.StatusNotFound, response.CodeUserNotFound, "user not found")
	case errors.Is(err, app.ErrUsernameExists):
		response.Error(c, http.StatusConflict, response.CodeUsernameExists, "username already exists")
	case errors.Is(err, app.ErrTooManyFiles), errors.Is(err, app.ErrFileTooLarge):
		response.Error(c, http.StatusRequestEntityTooLarge, response.CodeFileTooLarge, err.Error())
	case errors.Is(err, app.ErrUnsupportedType):
		response.Error(c, http.StatusUnsupportedMediaType, response.CodeUnsupportedType, err.Error())
	default:
		logger := applog.Ctx(c.Request.Context())
		logger.Error().Err(err).Str(applog.FieldOperation, op).Msg("request failed")
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, op+" failed")
	}
}
