package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/open-dialogue/internal/model"
	"github.com/ashwinyue/open-dialogue/internal/service"
)

// ConversationHandler 会话处理器
type ConversationHandler struct {
	svc *service.Services
}

// NewConversationHandler 创建会话处理器
func NewConversationHandler(svc *service.Services) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

// CreateConversation 创建会话
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	conv, err := h.svc.Conversation.Create(c.Request.Context())
	if err != nil {
		errorResponse(c, err)
		return
	}
	created(c, conv)
}

// ListConversations 列出最近会话
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	list, err := h.svc.Conversation.List(c.Request.Context(), limit)
	if err != nil {
		errorResponse(c, err)
		return
	}
	success(c, list)
}

// DeleteConversation 删除会话（仅管理员，路由层保证）
func (h *ConversationHandler) DeleteConversation(c *gin.Context) {
	id := c.Param("id")
	if err := h.svc.Conversation.Delete(c.Request.Context(), id); err != nil {
		errorResponse(c, err)
		return
	}
	success(c, gin.H{"id": id})
}

// GetMessages 读取会话消息。
// 带 after_seq 参数时只返回该序号之后的消息（增量轮询）。
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	id := c.Param("id")

	exists, err := h.svc.Conversation.Exists(c.Request.Context(), id)
	if err != nil {
		errorResponse(c, err)
		return
	}
	if !exists {
		c.JSON(404, Response{Code: -1, Message: "conversation not found"})
		return
	}

	afterSeq, _ := strconv.ParseInt(c.DefaultQuery("after_seq", "0"), 10, 64)

	var msgs []model.Message
	if afterSeq > 0 {
		msgs, err = h.svc.Conversation.LoadSince(c.Request.Context(), id, afterSeq)
	} else {
		msgs, err = h.svc.Conversation.Load(c.Request.Context(), id)
	}
	if err != nil {
		errorResponse(c, err)
		return
	}
	success(c, msgs)
}
