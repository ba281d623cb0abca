package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashwinyue/open-dialogue/internal/model"
)

// Store 会话存储接口
type Store interface {
	CreateConversation() (*model.Conversation, error)
	ConversationExists(id string) (bool, error)
	DeleteConversation(id string) error
	ListConversations(limit int) ([]model.ConversationSummary, error)
	AppendMessage(conversationID, author, body string) (*model.Message, error)
	LoadMessages(conversationID string) ([]model.Message, error)
	LoadMessagesSince(conversationID string, afterSeq int64) ([]model.Message, error)
}

// Service 会话消息服务
type Service struct {
	store Store
}

// NewService 创建会话消息服务
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Create 创建新会话
func (s *Service) Create(ctx context.Context) (*model.Conversation, error) {
	conv, err := s.store.CreateConversation()
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// Exists 检查会话是否存在
func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	if strings.TrimSpace(id) == "" {
		return false, nil
	}
	return s.store.ConversationExists(id)
}

// Delete 删除会话及其全部消息
func (s *Service) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("conversation id is required")
	}
	if err := s.store.DeleteConversation(id); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// List 列出最近的会话
func (s *Service) List(ctx context.Context, limit int) ([]model.ConversationSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListConversations(limit)
}

// Append 向会话追加一条消息
func (s *Service) Append(ctx context.Context, conversationID, author, body string) (*model.Message, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, fmt.Errorf("conversation id is required")
	}
	if strings.TrimSpace(author) == "" {
		return nil, fmt.Errorf("author is required")
	}
	msg, err := s.store.AppendMessage(conversationID, author, body)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// Load 按追加顺序加载会话全部消息
func (s *Service) Load(ctx context.Context, conversationID string) ([]model.Message, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, nil
	}
	return s.store.LoadMessages(conversationID)
}

// LoadSince 加载指定序号之后的消息（增量同步）
func (s *Service) LoadSince(ctx context.Context, conversationID string, afterSeq int64) ([]model.Message, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, nil
	}
	return s.store.LoadMessagesSince(conversationID, afterSeq)
}
