package model

import "time"

// Conversation 对话
// 创建后不可变（仅可删除）；删除时级联删除其全部消息
type Conversation struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	Messages  []Message `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"-"`
}

// Message 消息
// Seq 由数据库自增分配，是唯一的排序依据；消息创建后不可变
type Message struct {
	Seq            int64     `gorm:"primaryKey;autoIncrement;column:id" json:"seq"`
	ConversationID string    `gorm:"index;size:36" json:"conversation_id"`
	Author         string    `gorm:"size:255" json:"author"`
	Body           string    `gorm:"type:text" json:"body"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName 指定表名
func (Conversation) TableName() string {
	return "conversations"
}

func (Message) TableName() string {
	return "messages"
}

// ConversationSummary 会话列表条目（id + 创建时间）
type ConversationSummary struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}
