package handler

import (
	"github.com/ashwinyue/open-dialogue/internal/service"
)

// Handlers 处理器集合
type Handlers struct {
	Auth         *AuthHandler
	Agent        *AgentHandler
	Conversation *ConversationHandler
	Session      *SessionHandler
}

// NewHandlers 创建所有处理器
func NewHandlers(svc *service.Services) *Handlers {
	return &Handlers{
		Auth:         NewAuthHandler(svc),
		Agent:        NewAgentHandler(svc),
		Conversation: NewConversationHandler(svc),
		Session:      NewSessionHandler(svc),
	}
}
