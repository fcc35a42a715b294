package handlers

import (
	"context"
	"log/slog"

	"github.com/suPer8Hu/chat-relay/internal/chat"
	"github.com/suPer8Hu/chat-relay/internal/config"
)

// JobPublisher enqueues converse jobs for the worker.
type JobPublisher interface {
	PublishJob(ctx context.Context, jobID string) error
}

type Handler struct {
	Cfg     config.Config
	ChatSvc *chat.Service
	Jobs    JobPublisher
	Log     *slog.Logger
}

// NewHandler wires the HTTP handlers. jobs may be nil, which disables the async endpoint.
func NewHandler(cfg config.Config, svc *chat.Service, jobs JobPublisher, log *slog.Logger) *Handler {
	return &Handler{Cfg: cfg, ChatSvc: svc, Jobs: jobs, Log: log}
}
