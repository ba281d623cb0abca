package testutil

import (
	"fmt"
	"sync"
	"time"

	"github.com/ashwinyue/open-dialogue/internal/model"
	"github.com/ashwinyue/open-dialogue/internal/repository"
	"github.com/google/uuid"
)

// MemoryStore 内存会话存储（测试用）
// 与 repository.ConversationRepository 行为保持一致：
// 追加顺序即读取顺序，删除会话级联删除其消息。
type MemoryStore struct {
	mu            sync.Mutex
	nextSeq       int64
	conversations []model.ConversationSummary
	messages      map[string][]model.Message

	// FailNext 置位后下一次调用返回存储错误
	FailNext bool
	// Now 可注入的时钟
	Now func() time.Time
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string][]model.Message),
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) failing() bool {
	if s.FailNext {
		s.FailNext = false
		return true
	}
	return false
}

// CreateConversation 创建会话
func (s *MemoryStore) CreateConversation() (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing() {
		return nil, fmt.Errorf("create: %w", repository.ErrStoreUnavailable)
	}
	conv := &model.Conversation{ID: uuid.New().String(), CreatedAt: s.Now()}
	s.conversations = append(s.conversations, model.ConversationSummary{ID: conv.ID, CreatedAt: conv.CreatedAt})
	s.messages[conv.ID] = []model.Message{}
	return conv, nil
}

// ConversationExists 检查会话是否存在
func (s *MemoryStore) ConversationExists(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing() {
		return false, fmt.Errorf("exists: %w", repository.ErrStoreUnavailable)
	}
	_, ok := s.messages[id]
	return ok, nil
}

// DeleteConversation 删除会话及其消息
func (s *MemoryStore) DeleteConversation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing() {
		return fmt.Errorf("delete: %w", repository.ErrStoreUnavailable)
	}
	delete(s.messages, id)
	kept := s.conversations[:0]
	for _, c := range s.conversations {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	s.conversations = kept
	return nil
}

// ListConversations 按创建时间倒序列出会话
func (s *MemoryStore) ListConversations(limit int) ([]model.ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing() {
		return nil, fmt.Errorf("list: %w", repository.ErrStoreUnavailable)
	}
	out := make([]model.ConversationSummary, len(s.conversations))
	copy(out, s.conversations)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AppendMessage 追加消息
func (s *MemoryStore) AppendMessage(conversationID, author, body string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing() {
		return nil, fmt.Errorf("append: %w", repository.ErrStoreUnavailable)
	}
	if _, ok := s.messages[conversationID]; !ok {
		return nil, fmt.Errorf("append: %w", repository.ErrConversationNotFound)
	}
	s.nextSeq++
	msg := model.Message{
		Seq:            s.nextSeq,
		ConversationID: conversationID,
		Author:         author,
		Body:           body,
		CreatedAt:      s.Now(),
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	return &msg, nil
}

// LoadMessages 按追加顺序读取消息
func (s *MemoryStore) LoadMessages(conversationID string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing() {
		return nil, fmt.Errorf("load: %w", repository.ErrStoreUnavailable)
	}
	msgs := s.messages[conversationID]
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// LoadMessagesSince 读取指定序号之后的消息
func (s *MemoryStore) LoadMessagesSince(conversationID string, afterSeq int64) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing() {
		return nil, fmt.Errorf("load since: %w", repository.ErrStoreUnavailable)
	}
	var out []model.Message
	for _, m := range s.messages[conversationID] {
		if m.Seq > afterSeq {
			out = append(out, m)
		}
	}
	return out, nil
}

// MessageCount 返回会话中的消息数量
func (s *MemoryStore) MessageCount(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages[conversationID])
}
