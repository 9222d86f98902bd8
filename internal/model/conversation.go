package model

import "time"

// Turn 的消息类型。
const (
	TurnTypeUser      = "user"
	TurnTypeAssistant = "assistant"
	TurnTypeError     = "error"
)

// Citation 代表助手回答引用的一条文献记录。
type Citation struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Authors string   `json:"authors,omitempty"`
	Journal string   `json:"journal,omitempty"`
	Year    int      `json:"year,omitempty"`
	URL     string   `json:"url,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// Turn 代表对话中的一条消息（提问、回答或错误提示）。
// 一经追加即不可变；流式披露期间的中间内容不落入 Turn。
type Turn struct {
	Type      string     `json:"type"` // user / assistant / error
	Content   string     `json:"content"`
	Citations []Citation `json:"citations,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Conversation 代表一次按用户归属的多轮问答会话。
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Turns     []Turn    `json:"turns"`
	Timestamp time.Time `json:"timestamp"`
}
