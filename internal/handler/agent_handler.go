package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/open-dialogue/internal/service"
)

// AgentHandler 代理处理器
type AgentHandler struct {
	svc *service.Services
}

// NewAgentHandler 创建代理处理器
func NewAgentHandler(svc *service.Services) *AgentHandler {
	return &AgentHandler{svc: svc}
}

// ListAgents 列出代理及其角色设定
func (h *AgentHandler) ListAgents(c *gin.Context) {
	success(c, h.svc.Roster.List())
}

// UpdateRoleRequest 角色更新请求
type UpdateRoleRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Role      string `json:"role" binding:"required"`
}

// UpdateRole 更新代理的角色设定。
// 更新以指导者消息的形式写入会话选中的对话。
func (h *AgentHandler) UpdateRole(c *gin.Context) {
	name := c.Param("name")

	var req UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	sess, err := h.svc.Sessions.Get(c.Request.Context(), req.SessionID)
	if err != nil {
		errorResponse(c, err)
		return
	}

	sess.Lock()
	defer sess.Unlock()

	agent, err := h.svc.Dialogue.UpdateAgentRole(c.Request.Context(), sess, name, req.Role)
	if err != nil {
		errorResponse(c, err)
		return
	}
	success(c, agent)
}
