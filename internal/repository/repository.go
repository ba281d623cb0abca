package repository

import (
	"errors"

	"gorm.io/gorm"
)

// 存储层错误
// ErrStoreUnavailable 后端存储不可达；ErrConversationNotFound 目标会话已被并发删除
var (
	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrConversationNotFound = errors.New("conversation not found")
)

// Repositories 仓库集合，用于统一管理所有仓库
type Repositories struct {
	DB           *gorm.DB // 直接访问数据库
	Conversation *ConversationRepository
}

// NewRepositories 创建所有仓库
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		DB:           db,
		Conversation: NewConversationRepository(db),
	}
}
