package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/open-dialogue/internal/model"
	"github.com/ashwinyue/open-dialogue/internal/service"
	"github.com/ashwinyue/open-dialogue/internal/service/dialogue"
	"github.com/ashwinyue/open-dialogue/internal/service/session"
)

// SessionHandler 观看端会话处理器
type SessionHandler struct {
	svc *service.Services
	loc *time.Location
}

// NewSessionHandler 创建观看端会话处理器
func NewSessionHandler(svc *service.Services) *SessionHandler {
	return &SessionHandler{svc: svc, loc: svc.Config.App.Location()}
}

func (h *SessionHandler) getSession(c *gin.Context) *session.Session {
	sess, err := h.svc.Sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		errorResponse(c, err)
		return nil
	}
	return sess
}

// displayName 取登录身份的名字，匿名时回退到请求体
func displayName(c *gin.Context, fallback string) string {
	if v, ok := c.Get("display_name"); ok {
		if name, ok := v.(string); ok && name != "" {
			return name
		}
	}
	return fallback
}

// CreateSessionRequest 创建会话请求
type CreateSessionRequest struct {
	DisplayName string `json:"display_name"`
}

// CreateSession 创建观看端会话
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	_ = c.ShouldBindJSON(&req)

	name := displayName(c, req.DisplayName)
	if name == "" {
		name = "guest"
	}

	sess := h.svc.Sessions.Create(c.Request.Context(), name)
	created(c, gin.H{"session_id": sess.ID, "display_name": sess.DisplayName})
}

// SelectRequest 选择会话请求
type SelectRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
}

// SelectConversation 切换当前浏览的会话
func (h *SessionHandler) SelectConversation(c *gin.Context) {
	sess := h.getSession(c)
	if sess == nil {
		return
	}

	var req SelectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	sess.Lock()
	defer sess.Unlock()
	if err := h.svc.Sessions.Select(c.Request.Context(), sess, req.ConversationID); err != nil {
		errorResponse(c, err)
		return
	}
	success(c, gin.H{"conversation_id": sess.ConversationID})
}

// DeselectConversation 取消当前浏览的会话
func (h *SessionHandler) DeselectConversation(c *gin.Context) {
	sess := h.getSession(c)
	if sess == nil {
		return
	}

	sess.Lock()
	defer sess.Unlock()
	h.svc.Sessions.Deselect(c.Request.Context(), sess)
	success(c, gin.H{})
}

// OrderRequest 显示顺序请求
type OrderRequest struct {
	NewestFirst bool `json:"newest_first"`
}

// SetOrder 设置消息显示顺序（仅影响呈现）
func (h *SessionHandler) SetOrder(c *gin.Context) {
	sess := h.getSession(c)
	if sess == nil {
		return
	}

	var req OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	sess.Lock()
	defer sess.Unlock()
	sess.NewestFirst = req.NewestFirst
	h.svc.Sessions.Touch(c.Request.Context(), sess)
	success(c, gin.H{"newest_first": sess.NewestFirst})
}

// SendMessageRequest 发言请求
type SendMessageRequest struct {
	Role string `json:"role"`
	Text string `json:"text" binding:"required"`
}

// SendMessage 以 moderator 或 instructor 身份发言
func (h *SessionHandler) SendMessage(c *gin.Context) {
	sess := h.getSession(c)
	if sess == nil {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	role := req.Role
	if role == "" {
		role = "moderator"
	}

	sess.Lock()
	defer sess.Unlock()
	msg, err := h.svc.Dialogue.SendMessage(c.Request.Context(), sess, role, req.Text)
	if err != nil {
		errorResponse(c, err)
		return
	}
	success(c, msg)
}

// RespondRequest 手动触发回复请求
type RespondRequest struct {
	Agent string `json:"agent" binding:"required"`
}

// Respond 手动让指定代理回复一次
func (h *SessionHandler) Respond(c *gin.Context) {
	sess := h.getSession(c)
	if sess == nil {
		return
	}

	var req RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	sess.Lock()
	defer sess.Unlock()
	if err := h.svc.Dialogue.Respond(c.Request.Context(), sess, req.Agent); err != nil {
		errorResponse(c, err)
		return
	}
	success(c, gin.H{})
}

// ReflectionRequest 反思模式请求
type ReflectionRequest struct {
	Minutes int `json:"minutes"`
}

// StartReflection 开启反思模式
func (h *SessionHandler) StartReflection(c *gin.Context) {
	sess := h.getSession(c)
	if sess == nil {
		return
	}

	var req ReflectionRequest
	_ = c.ShouldBindJSON(&req)
	if req.Minutes == 0 {
		req.Minutes = h.svc.Config.Dialogue.ReflectionMinutes
	}

	sess.Lock()
	defer sess.Unlock()
	if err := h.svc.Dialogue.StartReflection(sess, req.Minutes); err != nil {
		errorResponse(c, err)
		return
	}
	success(c, gin.H{"reflect_until": sess.ReflectUntil})
}

// StopReflection 结束反思模式
func (h *SessionHandler) StopReflection(c *gin.Context) {
	sess := h.getSession(c)
	if sess == nil {
		return
	}

	sess.Lock()
	defer sess.Unlock()
	h.svc.Dialogue.StopReflection(sess)
	success(c, gin.H{})
}

// messageView 消息的呈现形式
type messageView struct {
	Seq       int64     `json:"seq"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	Label     string    `json:"label"`
}

// agentView 代理的呈现形式
type agentView struct {
	Name       string `json:"name"`
	Role       string `json:"role"`
	NeedsIntro bool   `json:"needs_intro"`
}

// viewResponse 轮询视图
type viewResponse struct {
	SessionID        string                      `json:"session_id"`
	DisplayName      string                      `json:"display_name"`
	ConversationID   string                      `json:"conversation_id"`
	Messages         []messageView               `json:"messages"`
	NewestFirst      bool                        `json:"newest_first"`
	Conversations    []model.ConversationSummary `json:"conversations"`
	Agents           []agentView                 `json:"agents"`
	Participants     []string                    `json:"participants"`
	ReflectionActive bool                        `json:"reflection_active"`
	ModelStatus      string                      `json:"model_status"`
	SearchStatus     string                      `json:"search_status"`
	LastError        string                      `json:"last_error,omitempty"`
	RequestLog       *session.RequestLog         `json:"request_log,omitempty"`
}

// humanParticipants 按首次出现顺序收集记录中的人类作者，
// 跳过代理回复和指导者署名的消息。
func humanParticipants(msgs []model.Message, agentNames []string) []string {
	skip := make(map[string]bool, len(agentNames)+1)
	for _, n := range agentNames {
		skip[n] = true
	}
	skip[dialogue.InstructorLabel] = true

	seen := make(map[string]bool)
	var participants []string
	for _, m := range msgs {
		if skip[m.Author] || seen[m.Author] {
			continue
		}
		seen[m.Author] = true
		participants = append(participants, m.Author)
	}
	return participants
}

// View 轮询端点：推进反思回合、按间隔同步存储，返回完整视图
func (h *SessionHandler) View(c *gin.Context) {
	sess := h.getSession(c)
	if sess == nil {
		return
	}

	ctx := c.Request.Context()
	sess.Lock()
	defer sess.Unlock()

	// 反思回合失败只记录，不中断视图
	_ = h.svc.Dialogue.AdvanceReflection(ctx, sess)
	_ = h.svc.Sessions.RefreshMessages(ctx, sess, false)
	_ = h.svc.Sessions.RefreshList(ctx, sess, false)

	msgs := make([]messageView, 0, len(sess.Transcript))
	for _, m := range sess.Transcript {
		ts := m.CreatedAt.In(h.loc).Format("2006-01-02 15:04")
		msgs = append(msgs, messageView{
			Seq:       m.Seq,
			Author:    m.Author,
			Body:      m.Body,
			CreatedAt: m.CreatedAt,
			Label:     "At " + ts + " " + m.Author + " said:",
		})
	}
	participants := humanParticipants(sess.Transcript, h.svc.Roster.Names())
	if sess.NewestFirst {
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
	}

	agentViews := make([]agentView, 0)
	for _, a := range h.svc.Roster.List() {
		agentViews = append(agentViews, agentView{
			Name:       a.Name,
			Role:       a.Role,
			NeedsIntro: sess.RoleEdited(a.Name),
		})
	}

	success(c, viewResponse{
		SessionID:        sess.ID,
		DisplayName:      sess.DisplayName,
		ConversationID:   sess.ConversationID,
		Messages:         msgs,
		NewestFirst:      sess.NewestFirst,
		Conversations:    sess.Conversations,
		Agents:           agentViews,
		Participants:     participants,
		ReflectionActive: sess.ReflectionActive(time.Now()),
		ModelStatus:      h.svc.ModelStatus(),
		SearchStatus:     h.svc.SearchStatus(),
		LastError:        sess.LastError,
		RequestLog:       sess.RequestLog,
	})
}
