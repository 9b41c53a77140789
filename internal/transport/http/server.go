package http

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gopherchat/internal/bootstrap"
	applog "gopherchat/internal/pkg/log"
	"gopherchat/internal/transport/http/handler"
	"gopherchat/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(applog.GinMiddleware(app.Logger), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	messageHandler := handler.NewMessageHandler(app.Chat)
	userHandler := handler.NewUserHandler(app.Users)
	uploadHandler := handler.NewUploadHandler(app.Uploads, app.Blobs, app.Config.Upload.MaxFileSize, app.Config.Upload.MaxFiles)
	wsHandler := handler.NewWSHandler(app.Hub, app.Chat, app.Users, app.Config.WebSocket, app.Logger)

	router.GET("/healthz", healthHandler.Check)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET(app.Config.WebSocket.Path, wsHandler.Handle)
	if app.LocalBlobs != nil {
		router.GET(strings.TrimRight(app.Config.Upload.PublicPrefix, "/")+"/*key", uploadHandler.Serve)
	}

	api := router.Group("/api")
	api.POST("/messages", middleware.RateLimit(app.Config.RateLimit.RPS, app.Config.RateLimit.Burst), messageHandler.Submit)
	api.GET("/messages", messageHandler.List)
	api.POST("/users", userHandler.Create)
	api.GET("/users", userHandler.List)
	api.GET("/users/:id", userHandler.Get)
	api.DELETE("/all-data", userHandler.ResetAll)
	api.POST("/upload", uploadHandler.Upload)

	return router
}
