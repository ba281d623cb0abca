// Package session 管理观看端会话状态：当前选中的会话、
// 本地记录缓存、显示偏好与待处理的代理调度队列。
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ashwinyue/open-dialogue/internal/config"
	"github.com/ashwinyue/open-dialogue/internal/model"
	"github.com/ashwinyue/open-dialogue/internal/repository"
	"github.com/ashwinyue/open-dialogue/internal/service/conversation"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrSessionNotFound 会话不存在
var ErrSessionNotFound = errors.New("session not found")

// Redis key 前缀
const sessionKeyPrefix = "viewer_session:"

// RequestLog 最近一次引擎请求的记录
type RequestLog struct {
	Agent    string    `json:"agent"`
	Request  string    `json:"request"`
	Response string    `json:"response"`
	At       time.Time `json:"at"`
}

// Session 观看端会话
// 通过 Lock/Unlock 串行化同一会话上的操作。
type Session struct {
	mu sync.Mutex

	ID          string
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// 当前选中的会话与本地记录缓存
	ConversationID string
	Transcript     []model.Message
	Conversations  []model.ConversationSummary

	// 显示偏好：true 时最新消息显示在前（仅影响呈现）
	NewestFirst bool

	// NeedsIntro 角色修改后尚未成功回复的代理
	NeedsIntro map[string]bool

	// 调度状态
	Pending      []string
	TriggerAfter []string
	ChainCount   int
	ReflectUntil time.Time
	ReflectNext  string

	LastError  string
	RequestLog *RequestLog

	lastMessageSync time.Time
	lastListSync    time.Time
}

// Lock 锁定会话
func (s *Session) Lock() { s.mu.Lock() }

// Unlock 解锁会话
func (s *Session) Unlock() { s.mu.Unlock() }

// ReflectionActive 反思模式是否仍在进行
func (s *Session) ReflectionActive(now time.Time) bool {
	return !s.ReflectUntil.IsZero() && now.Before(s.ReflectUntil)
}

// MarkNeedsIntro 标记代理在本会话中需要重新自我介绍
func (s *Session) MarkNeedsIntro(agentName string) {
	if s.NeedsIntro == nil {
		s.NeedsIntro = make(map[string]bool)
	}
	s.NeedsIntro[agentName] = true
}

// ClearNeedsIntro 代理成功回复后清除标记
func (s *Session) ClearNeedsIntro(agentName string) {
	delete(s.NeedsIntro, agentName)
}

// RoleEdited 代理是否带着未消化的角色修改
func (s *Session) RoleEdited(agentName string) bool {
	return s.NeedsIntro[agentName]
}

// clearSelection 丢弃当前选中的会话及其派生状态
func (s *Session) clearSelection() {
	s.ConversationID = ""
	s.Transcript = nil
	s.Pending = nil
	s.TriggerAfter = nil
	s.ChainCount = 0
	s.ReflectUntil = time.Time{}
	s.ReflectNext = ""
	s.lastMessageSync = time.Time{}
}

// sessionData 会话数据（用于 Redis 存储，仅持久化偏好）
type sessionData struct {
	ID             string          `json:"id"`
	DisplayName    string          `json:"display_name"`
	ConversationID string          `json:"conversation_id"`
	NewestFirst    bool            `json:"newest_first"`
	NeedsIntro     map[string]bool `json:"needs_intro,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Manager 会话管理器
type Manager struct {
	mu     sync.RWMutex
	memory map[string]*Session
	redis  *redis.Client
	conv   *conversation.Service
	cfg    *config.SyncConfig
	now    func() time.Time
}

// NewManager 创建会话管理器
func NewManager(conv *conversation.Service, cfg *config.SyncConfig, redisClient *redis.Client) *Manager {
	return &Manager{
		memory: make(map[string]*Session),
		redis:  redisClient,
		conv:   conv,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Create 创建新会话
func (m *Manager) Create(ctx context.Context, displayName string) *Session {
	now := m.now()
	sess := &Session{
		ID:          uuid.New().String(),
		DisplayName: displayName,
		CreatedAt:   now,
		UpdatedAt:   now,
		NeedsIntro:  make(map[string]bool),
	}

	m.mu.Lock()
	m.memory[sess.ID] = sess
	m.mu.Unlock()

	m.persist(ctx, sess)
	return sess
}

// Get 获取会话，内存未命中时回退到 Redis
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.RLock()
	sess, ok := m.memory[sessionID]
	m.mu.RUnlock()
	if ok {
		return sess, nil
	}

	if m.redis != nil {
		if restored := m.loadFromRedis(ctx, sessionID); restored != nil {
			m.mu.Lock()
			if existing, ok := m.memory[sessionID]; ok {
				restored = existing
			} else {
				m.memory[sessionID] = restored
			}
			m.mu.Unlock()
			return restored, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
}

// Select 切换到指定会话并全量加载其记录。
// 调用方需持有会话锁。
func (m *Manager) Select(ctx context.Context, sess *Session, conversationID string) error {
	exists, err := m.conv.Exists(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("failed to check conversation: %w", err)
	}
	if !exists {
		return fmt.Errorf("conversation %s: %w", conversationID, repository.ErrConversationNotFound)
	}

	sess.clearSelection()
	sess.ConversationID = conversationID
	if err := m.RefreshMessages(ctx, sess, true); err != nil {
		return err
	}
	m.touch(ctx, sess)
	return nil
}

// Deselect 取消当前选中的会话。
// 调用方需持有会话锁。
func (m *Manager) Deselect(ctx context.Context, sess *Session) {
	sess.clearSelection()
	m.touch(ctx, sess)
}

// RefreshMessages 重新加载当前会话的记录。
// 非强制时按消息同步间隔节流。本地缓存整体替换，
// 永不合并；会话已被删除时清除选中状态。
// 加载失败时保留现有缓存。调用方需持有会话锁。
func (m *Manager) RefreshMessages(ctx context.Context, sess *Session, force bool) error {
	if sess.ConversationID == "" {
		return nil
	}
	now := m.now()
	if !force && now.Sub(sess.lastMessageSync) < m.cfg.MessageInterval() {
		return nil
	}

	exists, err := m.conv.Exists(ctx, sess.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to refresh messages: %w", err)
	}
	if !exists {
		sess.clearSelection()
		m.touch(ctx, sess)
		return nil
	}

	msgs, err := m.conv.Load(ctx, sess.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to refresh messages: %w", err)
	}
	sess.Transcript = msgs
	sess.lastMessageSync = now
	return nil
}

// RefreshList 重新加载会话清单。
// 非强制时按清单同步间隔节流。清单非空且不含当前
// 选中会话时清除选中状态；清单为空或加载失败时
// 保持现状。调用方需持有会话锁。
func (m *Manager) RefreshList(ctx context.Context, sess *Session, force bool) error {
	now := m.now()
	if !force && now.Sub(sess.lastListSync) < m.cfg.ListInterval() {
		return nil
	}

	list, err := m.conv.List(ctx, 50)
	if err != nil {
		return fmt.Errorf("failed to refresh conversation list: %w", err)
	}
	sess.Conversations = list
	sess.lastListSync = now

	if sess.ConversationID != "" && len(list) > 0 {
		found := false
		for _, c := range list {
			if c.ID == sess.ConversationID {
				found = true
				break
			}
		}
		if !found {
			sess.clearSelection()
			m.touch(ctx, sess)
		}
	}
	return nil
}

// MarkNeedsIntroAll 在所有活跃会话中标记代理需要重新自我介绍。
// holding 为调用方已持有锁的会话（可为 nil）。
func (m *Manager) MarkNeedsIntroAll(agentName string, holding *Session) {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.memory))
	for _, s := range m.memory {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		if s == holding {
			s.MarkNeedsIntro(agentName)
			continue
		}
		s.Lock()
		s.MarkNeedsIntro(agentName)
		s.Unlock()
	}
}

// Touch 更新会话时间并同步到 Redis。
// 调用方需持有会话锁。
func (m *Manager) Touch(ctx context.Context, sess *Session) {
	m.touch(ctx, sess)
}

func (m *Manager) touch(ctx context.Context, sess *Session) {
	sess.UpdatedAt = m.now()
	m.persist(ctx, sess)
}

func (m *Manager) persist(ctx context.Context, sess *Session) {
	if m.redis == nil {
		return
	}
	data := sessionData{
		ID:             sess.ID,
		DisplayName:    sess.DisplayName,
		ConversationID: sess.ConversationID,
		NewestFirst:    sess.NewestFirst,
		NeedsIntro:     sess.NeedsIntro,
		CreatedAt:      sess.CreatedAt,
		UpdatedAt:      sess.UpdatedAt,
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	key := sessionKeyPrefix + sess.ID
	ttl := time.Duration(m.cfg.SessionTTLHours) * time.Hour
	if err := m.redis.Set(ctx, key, raw, ttl).Err(); err != nil {
		log.Printf("Warning: failed to save session to redis: %v", err)
	}
}

func (m *Manager) loadFromRedis(ctx context.Context, sessionID string) *Session {
	key := sessionKeyPrefix + sessionID
	raw, err := m.redis.Get(ctx, key).Result()
	if err != nil {
		return nil
	}

	var data sessionData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil
	}

	needsIntro := data.NeedsIntro
	if needsIntro == nil {
		needsIntro = make(map[string]bool)
	}
	return &Session{
		ID:             data.ID,
		DisplayName:    data.DisplayName,
		ConversationID: data.ConversationID,
		NewestFirst:    data.NewestFirst,
		NeedsIntro:     needsIntro,
		CreatedAt:      data.CreatedAt,
		UpdatedAt:      data.UpdatedAt,
	}
}
