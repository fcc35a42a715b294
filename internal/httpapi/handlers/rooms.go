package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-relay/internal/common"
)

func roomParam(c *gin.Context) (uint64, bool) {
	room, err := strconv.ParseUint(c.Param("room_id"), 10, 64)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid room id")
		return 0, false
	}
	return room, true
}

type clearReq struct {
	All bool `json:"all"`
}

// ClearRoom resets the room's current session; with all=true the global sub-bot and
// caption threads are reset too.
func (h *Handler) ClearRoom(c *gin.Context) {
	room, ok := roomParam(c)
	if !ok {
		return
	}
	var req clearReq
	_ = c.ShouldBindJSON(&req) // allow empty body

	var err error
	if req.All {
		bots := h.Cfg.AI
		err = h.ChatSvc.ClearAll(c.Request.Context(), room, bots.CaptionBot, bots.ReaderBot, bots.UtilityBot)
	} else {
		err = h.ChatSvc.Clear(c.Request.Context(), room)
	}
	if err != nil {
		h.failConverse(c, "clear", err)
		return
	}
	common.OK(c, gin.H{"room_id": room, "cleared": true})
}

type setModelReq struct {
	Model string `json:"model" binding:"required"`
}

func (h *Handler) SetRoomModel(c *gin.Context) {
	room, ok := roomParam(c)
	if !ok {
		return
	}
	var req setModelReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	variant, err := h.ChatSvc.SetModel(c.Request.Context(), room, req.Model)
	if err != nil {
		h.failConverse(c, "set model", err)
		return
	}
	common.OK(c, gin.H{"room_id": room, "model": req.Model, "variant": variant})
}
