package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"medichat-go/internal/model"
)

func TestTurnDocIDStableAcrossProcesses(t *testing.T) {
	turn := model.Turn{
		Type:      model.TurnTypeUser,
		Content:   "这个病人的病史？",
		Timestamp: time.Unix(1700000000, 42),
	}

	// 同一条消息在任何进程里重算都得到同一个 id
	id := turnDocID("conv-1", turn)
	assert.Equal(t, id, turnDocID("conv-1", turn))

	// 不同时刻的消息不会复用 id，重启后继续追加也一样
	later := turn
	later.Timestamp = turn.Timestamp.Add(time.Nanosecond)
	assert.NotEqual(t, id, turnDocID("conv-1", later))

	// 不同对话互不干扰
	assert.NotEqual(t, id, turnDocID("conv-2", turn))
}
