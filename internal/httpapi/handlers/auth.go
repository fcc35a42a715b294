package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-relay/internal/auth"
	"github.com/suPer8Hu/chat-relay/internal/common"
)

const adminSubject = "admin"

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

type loginReq struct {
	Password string `json:"password" binding:"required"`
}

// Login exchanges the admin password for a JWT.
func (h *Handler) Login(c *gin.Context) {
	if h.Cfg.HTTP.AdminPasswordHash == "" {
		common.Fail(c, http.StatusServiceUnavailable, 50301, "login disabled")
		return
	}

	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if err := auth.CheckPassword(h.Cfg.HTTP.AdminPasswordHash, req.Password); err != nil {
		common.Fail(c, http.StatusUnauthorized, 40103, "invalid password")
		return
	}

	token, err := auth.IssueToken(h.Cfg.HTTP.JWTSecret, adminSubject, auth.DefaultTokenTTL)
	if err != nil {
		h.Log.Error("sign token failed", "err", err)
		common.Fail(c, http.StatusInternalServerError, 20003, "failed to sign token")
		return
	}
	common.OK(c, gin.H{"token": token})
}
