package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-relay/internal/chat"
	"github.com/suPer8Hu/chat-relay/internal/common"
	"github.com/suPer8Hu/chat-relay/internal/config"
	"github.com/suPer8Hu/chat-relay/internal/httpapi/handlers"
	"github.com/suPer8Hu/chat-relay/internal/httpapi/middleware"
)

func NewRouter(cfg config.Config, svc *chat.Service, jobs handlers.JobPublisher, log *slog.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(log))
	r.Use(middleware.Recovery(log))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	h := handlers.NewHandler(cfg, svc, jobs, log)

	r.GET("/ping", h.Ping)

	// auth
	r.POST("/login", h.Login)
	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.HTTP.JWTSecret))

	// Conversation (JWT required)
	authGroup.POST("/converse", h.Converse)
	authGroup.POST("/converse/jobs", h.SubmitConverseJob)
	authGroup.GET("/converse/jobs/:job_id", h.GetConverseJob)
	authGroup.POST("/caption", h.Caption)

	// Rooms
	authGroup.POST("/rooms/:room_id/clear", h.ClearRoom)
	authGroup.PUT("/rooms/:room_id/model", h.SetRoomModel)
	return r
}
