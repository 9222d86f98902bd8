package service

import (
	"context"
	"time"

	"medichat-go/internal/model"
	"medichat-go/internal/session"
	"medichat-go/pkg/events"
	"medichat-go/pkg/kafka"
	"medichat-go/pkg/log"
)

// eventRecorder 把会话内的定稿消息和病人上下文变更旁路到
// Kafka（审计）与 Elasticsearch（检索）。旁路失败只记日志，
// 不影响会话主流程。
type eventRecorder struct {
	search SearchService
}

// NewEventRecorder 创建会话事件旁路记录器。
func NewEventRecorder(search SearchService) session.Recorder {
	return &eventRecorder{search: search}
}

// TurnFinalized 在消息定稿后被调用，异步发布事件并写入检索索引。
func (r *eventRecorder) TurnFinalized(userID uint, conversationID string, turn model.Turn) {
	go func() {
		if err := kafka.PublishSessionEvent(events.SessionEvent{
			Type:           events.TypeTurnFinalized,
			UserID:         userID,
			ConversationID: conversationID,
			Role:           turn.Type,
			Content:        turn.Content,
			OccurredAt:     turn.Timestamp,
		}); err != nil {
			log.Errorf("发布消息定稿事件失败: user=%d, conv=%s, error: %v", userID, conversationID, err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.search.IndexTurn(ctx, userID, conversationID, turn); err != nil {
			log.Errorf("消息写入检索索引失败: user=%d, conv=%s, error: %v", userID, conversationID, err)
		}
	}()
}

// PatientContextChanged 在激活病人变更后被调用。
func (r *eventRecorder) PatientContextChanged(userID uint, patientID string) {
	go func() {
		if err := kafka.PublishSessionEvent(events.SessionEvent{
			Type:       events.TypePatientContext,
			UserID:     userID,
			PatientID:  patientID,
			OccurredAt: time.Now(),
		}); err != nil {
			log.Errorf("发布病人上下文事件失败: user=%d, patient=%s, error: %v", userID, patientID, err)
		}
	}()
}
