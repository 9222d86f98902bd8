package model

import "time"

// TurnDocument 代表写入 Elasticsearch 的一条已定稿消息，用于对话内容检索。
type TurnDocument struct {
	DocID          string    `json:"doc_id"` // conversationID + 轮次序号
	UserID         uint      `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// TurnSearchHit 定义了返回给前端的对话检索结果结构。
type TurnSearchHit struct {
	ConversationID string  `json:"conversationId"`
	Role           string  `json:"role"`
	Content        string  `json:"content"`
	Score          float64 `json:"score"`
}
