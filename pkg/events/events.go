// Package events defines the payloads that flow over the session event bus.
package events

import "time"

// 事件类型。
const (
	TypeTurnFinalized  = "turn_finalized"
	TypePatientContext = "patient_context"
)

// SessionEvent 是投递到 Kafka 的会话事件。
type SessionEvent struct {
	Type           string    `json:"type"`
	UserID         uint      `json:"user_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	PatientID      string    `json:"patient_id,omitempty"`
	Role           string    `json:"role,omitempty"`
	Content        string    `json:"content,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}
