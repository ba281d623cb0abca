package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/open-dialogue/internal/service"
	"github.com/ashwinyue/open-dialogue/internal/service/auth"
)

// AuthHandler 认证处理器
type AuthHandler struct {
	svc *service.Services
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(svc *service.Services) *AuthHandler {
	return &AuthHandler{svc: svc}
}

// Login 登录
func (h *AuthHandler) Login(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := h.svc.Auth.Login(&req)
	if err != nil {
		errorResponse(c, err)
		return
	}
	success(c, resp)
}
