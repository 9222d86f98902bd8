package model

import "time"

// SessionEventRecord 对应于数据库中的 'session_events' 表。
// 由 Kafka 审计消费者写入，供管理端查询会话行为轨迹。
type SessionEventRecord struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	EventType      string    `gorm:"type:varchar(40);not null;index" json:"eventType"`
	UserID         uint      `gorm:"not null;index" json:"userId"`
	ConversationID string    `gorm:"type:varchar(64)" json:"conversationId"`
	PatientID      string    `gorm:"type:varchar(64)" json:"patientId"`
	Detail         string    `gorm:"type:text" json:"detail"`
	OccurredAt     time.Time `gorm:"not null" json:"occurredAt"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (SessionEventRecord) TableName() string {
	return "session_events"
}
