package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-relay/internal/ai"
	"github.com/suPer8Hu/chat-relay/internal/chat"
	"github.com/suPer8Hu/chat-relay/internal/common"
	"github.com/suPer8Hu/chat-relay/internal/httpapi/middleware"
	"github.com/suPer8Hu/chat-relay/internal/store/redisstore"
	"gorm.io/gorm"
)

type converseReq struct {
	// RoomID is optional; absent means the global room.
	RoomID  *uint64 `json:"room_id"`
	Message string  `json:"message" binding:"required"`
}

func (r converseReq) room() uint64 {
	if r.RoomID == nil {
		return chat.GlobalRoom
	}
	return *r.RoomID
}

// failConverse maps orchestration errors onto the envelope.
func (h *Handler) failConverse(c *gin.Context, op string, err error) {
	h.Log.Warn(op+" failed", "request_id", c.GetString(middleware.RequestIDKey), "err", err)

	var se *ai.StreamError
	var ue *ai.UploadError
	switch {
	case errors.Is(err, chat.ErrLockTimeout):
		common.Fail(c, http.StatusServiceUnavailable, 50302, "backend busy, try again later")
	case errors.Is(err, redisstore.ErrStoreUnavailable):
		common.Fail(c, http.StatusServiceUnavailable, 50303, "session store unavailable")
	case errors.Is(err, chat.ErrToolLoopExceeded):
		common.Fail(c, http.StatusBadGateway, 50203, "too many tool calls")
	case errors.As(err, &se):
		if se.Kind == ai.StreamTimeout {
			common.Fail(c, http.StatusGatewayTimeout, 50401, "backend timed out")
			return
		}
		common.Fail(c, http.StatusBadGateway, 50201, "backend error")
	case errors.As(err, &ue):
		common.Fail(c, http.StatusBadGateway, 50202, "upload failed: "+string(ue.Kind))
	case errors.Is(err, chat.ErrEmptyModel):
		common.Fail(c, http.StatusBadRequest, 10005, "model name is empty")
	case errors.Is(err, chat.ErrNoCaptioner):
		common.Fail(c, http.StatusNotImplemented, 50101, "captioning disabled")
	default:
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}

func (h *Handler) Converse(c *gin.Context) {
	var req converseReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	reply, err := h.ChatSvc.Converse(c.Request.Context(), req.room(), req.Message)
	if err != nil {
		h.failConverse(c, "converse", err)
		return
	}
	common.OK(c, gin.H{
		"room_id": req.room(),
		"reply":   reply,
	})
}

func (h *Handler) SubmitConverseJob(c *gin.Context) {
	if h.Jobs == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50304, "job queue disabled")
		return
	}
	var req converseReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	// read idempotency key
	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		common.Fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return
	}
	var idempoKeyPtr *string
	if idempoKey != "" {
		idempoKeyPtr = &idempoKey
	}

	j, created, err := h.ChatSvc.SubmitJob(c.Request.Context(), req.room(), req.Message, idempoKeyPtr)
	if err != nil {
		h.Log.Error("submit job failed", "room", req.room(), "err", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	// Enqueue only when a new job was created
	if created {
		if err := h.Jobs.PublishJob(c.Request.Context(), j.ID); err != nil {
			h.Log.Error("publish job failed", "job", j.ID, "err", err)
			common.Fail(c, http.StatusInternalServerError, 50002, "enqueue failed")
			return
		}
	}

	common.OK(c, gin.H{"job_id": j.ID, "created": created})
}

func (h *Handler) GetConverseJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if jobID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "job_id required")
		return
	}

	j, err := h.ChatSvc.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "job not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.OK(c, gin.H{"job": j})
}

type captionReq struct {
	URL      string `json:"url" binding:"required"`
	Filename string `json:"filename"`
	Size     uint64 `json:"size"`
}

func (h *Handler) Caption(c *gin.Context) {
	var req captionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	text, err := h.ChatSvc.Caption(c.Request.Context(), chat.Image{
		URL:      req.URL,
		Filename: req.Filename,
		Size:     req.Size,
	})
	if err != nil {
		h.failConverse(c, "caption", err)
		return
	}
	common.OK(c, gin.H{"caption": text})
}
