package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medichat-go/internal/model"
	"medichat-go/pkg/answer"
	"medichat-go/pkg/kvstore"
)

// fakeAnswerClient 是可编程的答案服务替身。
type fakeAnswerClient struct {
	result *answer.Result
	err    error
	delay  time.Duration

	mu          sync.Mutex
	gotQuestion string
	gotPatient  *model.PatientRecord
}

func (f *fakeAnswerClient) Submit(ctx context.Context, question string, patient *model.PatientRecord) (*answer.Result, error) {
	f.mu.Lock()
	f.gotQuestion = question
	f.gotPatient = patient
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type recordedEvent struct {
	convID string
	turn   model.Turn
}

// fakeRecorder 收集旁路通知。
type fakeRecorder struct {
	mu             sync.Mutex
	turns          []recordedEvent
	contextChanges []string
}

func (r *fakeRecorder) TurnFinalized(_ uint, convID string, turn model.Turn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, recordedEvent{convID: convID, turn: turn})
}

func (r *fakeRecorder) PatientContextChanged(_ uint, patientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contextChanges = append(r.contextChanges, patientID)
}

func newTestSession(client answer.Client, recorder Recorder) (*ConversationStore, *PatientStore, *Orchestrator) {
	store := kvstore.NewMemoryStore()
	conv := NewConversationStore(store, 1)
	patients := NewPatientStore(store, 1)
	orch := NewOrchestrator(conv, patients, client, newTestReveal(), recorder, 1)
	return conv, patients, orch
}

func TestSubmitEndToEnd(t *testing.T) {
	client := &fakeAnswerClient{result: &answer.Result{OK: true, Content: "<p>Summary...</p>"}}
	conv, _, orch := newTestSession(client, nil)

	require.NoError(t, orch.Submit(context.Background(), "Summarize this patient", nil))

	convs := conv.Conversations()
	require.Len(t, convs, 1)
	require.Len(t, convs[0].Turns, 2)
	assert.Equal(t, model.TurnTypeUser, convs[0].Turns[0].Type)
	assert.Equal(t, "Summarize this patient", convs[0].Turns[0].Content)
	assert.Equal(t, model.TurnTypeAssistant, convs[0].Turns[1].Type)
	assert.Equal(t, "<p>Summary...</p>", convs[0].Turns[1].Content)
	assert.Equal(t, StateIdle, orch.State())
	// 无激活病人时上下文为空
	client.mu.Lock()
	assert.Nil(t, client.gotPatient)
	client.mu.Unlock()
}

func TestSubmitRejectsConcurrentSubmission(t *testing.T) {
	client := &fakeAnswerClient{
		result: &answer.Result{OK: true, Content: "slow answer"},
		delay:  200 * time.Millisecond,
	}
	_, _, orch := newTestSession(client, nil)

	done := make(chan error, 1)
	go func() { done <- orch.Submit(context.Background(), "第一问", nil) }()

	// 等第一条提交进入 Submitting
	require.Eventually(t, func() bool { return orch.State() != StateIdle }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, orch.Submit(context.Background(), "第二问", nil), ErrBusy)
	require.NoError(t, <-done)
}

func TestStopMidRevealKeepsPrefix(t *testing.T) {
	full := strings.Repeat("x", 300) // 无换行：前 150 个字符逐字披露
	client := &fakeAnswerClient{result: &answer.Result{OK: true, Content: full}}
	conv, _, orch := newTestSession(client, nil)

	err := orch.Submit(context.Background(), "长答案", func(prefix string) {
		if len([]rune(prefix)) == 40 {
			orch.Stop()
		}
	})
	require.NoError(t, err)

	msgs := conv.Messages()
	require.Len(t, msgs, 2)
	got := msgs[1]
	assert.Equal(t, model.TurnTypeAssistant, got.Type)
	assert.Equal(t, strings.Repeat("x", 40), got.Content)
}

func TestStopWhileAwaitingAnswerAppendsNothing(t *testing.T) {
	client := &fakeAnswerClient{
		result: &answer.Result{OK: true, Content: "never delivered"},
		delay:  time.Second,
	}
	conv, _, orch := newTestSession(client, nil)

	done := make(chan error, 1)
	go func() { done <- orch.Submit(context.Background(), "取消我", nil) }()
	require.Eventually(t, func() bool { return orch.State() == StateSubmitting }, time.Second, 5*time.Millisecond)

	orch.Stop()
	require.NoError(t, <-done)

	msgs := conv.Messages()
	require.Len(t, msgs, 1) // 只有用户消息，没有答案也没有错误
	assert.Equal(t, model.TurnTypeUser, msgs[0].Type)
	assert.Equal(t, StateIdle, orch.State())
}

func TestCapabilityFailureAppendsErrorTurn(t *testing.T) {
	client := &fakeAnswerClient{err: errors.New("connection refused")}
	conv, _, orch := newTestSession(client, nil)

	err := orch.Submit(context.Background(), "会失败的问题", nil)
	require.Error(t, err)

	msgs := conv.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.TurnTypeError, msgs[1].Type)
	assert.Equal(t, capabilityErrorMessage, msgs[1].Content)
	assert.Equal(t, StateIdle, orch.State())
}

func TestNotOKResultAppendsErrorTurn(t *testing.T) {
	client := &fakeAnswerClient{result: &answer.Result{OK: false, Content: "额度已用尽"}}
	conv, _, orch := newTestSession(client, nil)

	require.Error(t, orch.Submit(context.Background(), "问题", nil))

	msgs := conv.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.TurnTypeError, msgs[1].Type)
	assert.Equal(t, "额度已用尽", msgs[1].Content)
}

func TestRetryResubmitsLastQuestion(t *testing.T) {
	client := &fakeAnswerClient{err: errors.New("boom")}
	conv, _, orch := newTestSession(client, nil)

	require.Error(t, orch.Submit(context.Background(), "重试这个", nil))

	client.err = nil
	client.result = &answer.Result{OK: true, Content: "第二次成功"}
	require.NoError(t, orch.Retry(context.Background(), nil))

	client.mu.Lock()
	assert.Equal(t, "重试这个", client.gotQuestion)
	client.mu.Unlock()
	msgs := conv.Messages()
	assert.Equal(t, "第二次成功", msgs[len(msgs)-1].Content)
}

func TestRetryWithoutHistory(t *testing.T) {
	client := &fakeAnswerClient{result: &answer.Result{OK: true, Content: "x"}}
	_, _, orch := newTestSession(client, nil)
	assert.ErrorIs(t, orch.Retry(context.Background(), nil), ErrNoLastQuestion)
}

func TestPatientSwitchResetsConversation(t *testing.T) {
	client := &fakeAnswerClient{result: &answer.Result{OK: true, Content: "答案"}}
	recorder := &fakeRecorder{}
	conv, patients, orch := newTestSession(client, recorder)

	require.NoError(t, orch.Submit(context.Background(), "切换前的问题", nil))
	require.NotEmpty(t, conv.CurrentConversationID())

	rec, errs := patients.Create(validPatientInput())
	require.Nil(t, errs)
	require.NoError(t, patients.RequestSwitch(rec.ID, true))
	require.NoError(t, patients.ConfirmSwitch())

	// 确认切换后当前对话立即作废
	assert.Empty(t, conv.CurrentConversationID())
	assert.Empty(t, conv.Messages())
	// 旧对话保留在列表里，不做按病人清理
	assert.Len(t, conv.Conversations(), 1)

	recorder.mu.Lock()
	assert.Equal(t, []string{rec.ID}, recorder.contextChanges)
	recorder.mu.Unlock()
}

func TestActivePatientPassedToCapability(t *testing.T) {
	client := &fakeAnswerClient{result: &answer.Result{OK: true, Content: "带上下文的答案"}}
	_, patients, orch := newTestSession(client, nil)

	rec, _ := patients.Create(validPatientInput())
	require.NoError(t, patients.Activate(rec.ID))

	require.NoError(t, orch.Submit(context.Background(), "这个病人怎么样？", nil))

	client.mu.Lock()
	require.NotNil(t, client.gotPatient)
	assert.Equal(t, rec.ID, client.gotPatient.ID)
	client.mu.Unlock()
}

func TestRecorderReceivesFinalizedTurns(t *testing.T) {
	client := &fakeAnswerClient{result: &answer.Result{OK: true, Content: "记录我"}}
	recorder := &fakeRecorder{}
	_, _, orch := newTestSession(client, recorder)

	require.NoError(t, orch.Submit(context.Background(), "问题", nil))

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	require.Len(t, recorder.turns, 2)
	assert.Equal(t, model.TurnTypeUser, recorder.turns[0].turn.Type)
	assert.Equal(t, model.TurnTypeAssistant, recorder.turns[1].turn.Type)
	assert.Equal(t, recorder.turns[0].convID, recorder.turns[1].convID)
}

func TestCloseDuringRevealPreservesHistory(t *testing.T) {
	store := kvstore.NewMemoryStore()
	client := &fakeAnswerClient{result: &answer.Result{OK: true, Content: strings.Repeat("x", 300)}}
	m := NewManager(store, client, newTestReveal(), nil)

	s1 := m.Get(1)
	s1.Conversations.AppendTurn(userTurn("历史对话一"))
	s1.Conversations.StartNewChat()

	firstPrefix := make(chan struct{})
	var once sync.Once
	done := make(chan error, 1)
	go func() {
		done <- s1.Orchestrator.Submit(context.Background(), "在途的问题", func(string) {
			once.Do(func() { close(firstPrefix) })
		})
	}()

	// 披露开始后立即登出：Close 必须等在途提交定稿完再重置存储
	<-firstPrefix
	m.Close(1)
	require.NoError(t, <-done)

	s2 := m.Get(1)
	convs := s2.Conversations.Conversations()
	require.Len(t, convs, 2)

	var history, inflight *model.Conversation
	for i := range convs {
		if convs[i].Title == "历史对话一" {
			history = &convs[i]
		} else {
			inflight = &convs[i]
		}
	}
	// 登出前的对话原样保留
	require.NotNil(t, history)
	require.Len(t, history.Turns, 1)
	// 在途对话带着用户消息和被叫停的回答前缀一起落盘
	require.NotNil(t, inflight)
	require.Len(t, inflight.Turns, 2)
	assert.Equal(t, model.TurnTypeUser, inflight.Turns[0].Type)
	assert.Equal(t, "在途的问题", inflight.Turns[0].Content)
	assert.Equal(t, model.TurnTypeAssistant, inflight.Turns[1].Type)
}

func TestManagerLifecycle(t *testing.T) {
	store := kvstore.NewMemoryStore()
	client := &fakeAnswerClient{result: &answer.Result{OK: true, Content: "x"}}
	m := NewManager(store, client, newTestReveal(), nil)

	s1 := m.Get(7)
	assert.Same(t, s1, m.Get(7))

	s1.Conversations.AppendTurn(userTurn("登出前的问题"))
	m.Close(7)

	// 重新获取会话：内存状态重建，但持久化数据仍在
	s2 := m.Get(7)
	assert.NotSame(t, s1, s2)
	require.Len(t, s2.Conversations.Conversations(), 1)
}
