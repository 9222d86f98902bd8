package audit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medichat-go/internal/model"
	"medichat-go/pkg/events"
)

// fakeEventRepo 收集落库的审计记录。
type fakeEventRepo struct {
	created []*model.SessionEventRecord
}

func (f *fakeEventRepo) Create(event *model.SessionEventRecord) error {
	f.created = append(f.created, event)
	return nil
}

func (f *fakeEventRepo) FindRecent(int) ([]model.SessionEventRecord, error) {
	return nil, nil
}

func (f *fakeEventRepo) FindWithPagination(uint, int, int) ([]model.SessionEventRecord, int64, error) {
	return nil, 0, nil
}

func TestProcessPersistsEvent(t *testing.T) {
	repo := &fakeEventRepo{}
	p := NewProcessor(repo)

	occurred := time.Now()
	err := p.Process(context.Background(), events.SessionEvent{
		Type:           events.TypeTurnFinalized,
		UserID:         7,
		ConversationID: "conv-1",
		Role:           "assistant",
		Content:        "高血压随访建议",
		OccurredAt:     occurred,
	})
	require.NoError(t, err)

	require.Len(t, repo.created, 1)
	rec := repo.created[0]
	assert.Equal(t, events.TypeTurnFinalized, rec.EventType)
	assert.Equal(t, uint(7), rec.UserID)
	assert.Equal(t, "conv-1", rec.ConversationID)
	assert.Equal(t, "高血压随访建议", rec.Detail)
	assert.Equal(t, occurred, rec.OccurredAt)
}

func TestProcessTruncatesLongDetail(t *testing.T) {
	repo := &fakeEventRepo{}
	p := NewProcessor(repo)

	err := p.Process(context.Background(), events.SessionEvent{
		Type:    events.TypeTurnFinalized,
		UserID:  1,
		Content: strings.Repeat("长", maxDetailRunes+100),
	})
	require.NoError(t, err)

	require.Len(t, repo.created, 1)
	assert.Len(t, []rune(repo.created[0].Detail), maxDetailRunes)
}
