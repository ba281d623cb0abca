package repository

import (
	"errors"
	"fmt"

	"github.com/ashwinyue/open-dialogue/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConversationRepository 会话数据访问
type ConversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository 创建会话仓库
func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// CreateConversation 创建会话（created_at 由存储在插入时分配）
func (r *ConversationRepository) CreateConversation() (*model.Conversation, error) {
	conv := &model.Conversation{ID: uuid.New().String()}
	if err := r.db.Create(conv).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return conv, nil
}

// ConversationExists 会话是否存在；id 不存在返回 false 而非错误
func (r *ConversationRepository) ConversationExists(id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	var count int64
	if err := r.db.Model(&model.Conversation{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return count > 0, nil
}

// DeleteConversation 删除会话；幂等，删除不存在的 id 不报错
// 消息由外键 ON DELETE CASCADE 级联删除，不做应用层清理
func (r *ConversationRepository) DeleteConversation(id string) error {
	if id == "" {
		return nil
	}
	if err := r.db.Delete(&model.Conversation{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// ListConversations 列出会话（created_at 降序）
func (r *ConversationRepository) ListConversations(limit int) ([]model.ConversationSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	var convs []model.Conversation
	if err := r.db.Order("created_at DESC").Limit(limit).Find(&convs).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	out := make([]model.ConversationSummary, 0, len(convs))
	for _, c := range convs {
		out = append(out, model.ConversationSummary{ID: c.ID, CreatedAt: c.CreatedAt})
	}
	return out, nil
}

// AppendMessage 追加消息（序号与 UTC 时间戳由存储分配）
// 会话已被并发删除时返回 ErrConversationNotFound
func (r *ConversationRepository) AppendMessage(conversationID, author, body string) (*model.Message, error) {
	msg := &model.Message{
		ConversationID: conversationID,
		Author:         author,
		Body:           body,
	}
	if err := r.db.Create(msg).Error; err != nil {
		// 外键失败通常意味着会话刚被删除；复查以区分存储故障
		exists, existsErr := r.ConversationExists(conversationID)
		if existsErr == nil && !exists {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return msg, nil
}

// LoadMessages 按序号升序加载消息
// 空会话和已删除会话都返回空序列而非错误
func (r *ConversationRepository) LoadMessages(conversationID string) ([]model.Message, error) {
	if conversationID == "" {
		return []model.Message{}, nil
	}
	var messages []model.Message
	err := r.db.Where("conversation_id = ?", conversationID).Order("id ASC").Find(&messages).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return []model.Message{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return messages, nil
}

// LoadMessagesSince 加载序号大于 afterSeq 的消息（增量同步用）
func (r *ConversationRepository) LoadMessagesSince(conversationID string, afterSeq int64) ([]model.Message, error) {
	if conversationID == "" {
		return []model.Message{}, nil
	}
	var messages []model.Message
	err := r.db.Where("conversation_id = ? AND id > ?", conversationID, afterSeq).
		Order("id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return messages, nil
}
