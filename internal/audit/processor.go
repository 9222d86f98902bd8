// Package audit 将会话事件落库，形成可查询的行为轨迹。
package audit

import (
	"context"

	"medichat-go/internal/model"
	"medichat-go/internal/repository"
	"medichat-go/pkg/events"
	"medichat-go/pkg/log"
)

// 审计明细最多保留的字符数，完整内容在 Elasticsearch 中。
const maxDetailRunes = 500

// Processor 消费会话事件并持久化为审计记录。
type Processor struct {
	eventRepo repository.EventRepository
}

// NewProcessor 创建一个审计事件处理器。
func NewProcessor(eventRepo repository.EventRepository) *Processor {
	return &Processor{eventRepo: eventRepo}
}

// Process 将单条会话事件转换为审计记录并写入数据库。
func (p *Processor) Process(ctx context.Context, event events.SessionEvent) error {
	detail := event.Content
	if runes := []rune(detail); len(runes) > maxDetailRunes {
		detail = string(runes[:maxDetailRunes])
	}

	record := &model.SessionEventRecord{
		EventType:      event.Type,
		UserID:         event.UserID,
		ConversationID: event.ConversationID,
		PatientID:      event.PatientID,
		Detail:         detail,
		OccurredAt:     event.OccurredAt,
	}

	if err := p.eventRepo.Create(record); err != nil {
		return err
	}

	log.Debugf("审计事件已落库: type=%s, user=%d", event.Type, event.UserID)
	return nil
}
