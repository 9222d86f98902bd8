package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"medichat-go/internal/model"
	"medichat-go/pkg/answer"
	"medichat-go/pkg/log"
)

// State 是编排器的提交状态。
type State int32

const (
	StateIdle State = iota
	StateSubmitting
	StateStreaming
)

// ErrBusy 表示上一条问题尚未结束，新提交被拒绝。
var ErrBusy = errors.New("仍有问题在处理中")

// ErrNoLastQuestion 表示没有可供重试的历史问题。
var ErrNoLastQuestion = errors.New("没有可重试的问题")

// capabilityErrorMessage 是答案服务失败时写入错误消息的固定文案。
const capabilityErrorMessage = "AI 服务暂时不可用，请稍后重试"

// Recorder 接收已定稿消息与病人上下文变化的通知（事件总线、检索索引等旁路）。
// 实现不得阻塞提交主流程。
type Recorder interface {
	TurnFinalized(userID uint, conversationID string, turn model.Turn)
	PatientContextChanged(userID uint, patientID string)
}

// Orchestrator 编排一次完整的问答周期：
// Idle → Submitting →（Streaming | Errored）→ Idle，外加随时可达的取消。
// 同一会话同时只允许一条在途问题；病人上下文变化会无条件重置当前对话。
type Orchestrator struct {
	mu    sync.Mutex
	state State

	conv     *ConversationStore
	patients *PatientStore
	client   answer.Client
	reveal   *RevealController
	recorder Recorder // 可为 nil
	userID   uint

	cancel       context.CancelFunc
	stopFlag     atomic.Bool
	lastQuestion string
	// partial 是流式披露期间的瞬态内容（PendingTurn），定稿或取消后即清空
	partial string
	// inflight 跟踪在途的提交周期，销毁会话前必须等它完全结束
	inflight sync.WaitGroup
}

// NewOrchestrator 组装编排器并挂接病人上下文变化的回调。
func NewOrchestrator(conv *ConversationStore, patients *PatientStore, client answer.Client, reveal *RevealController, recorder Recorder, userID uint) *Orchestrator {
	o := &Orchestrator{
		conv:     conv,
		patients: patients,
		client:   client,
		reveal:   reveal,
		recorder: recorder,
		userID:   userID,
	}
	// 病人上下文是对话的作用域：指针一变，当前对话无条件作废
	patients.OnActiveChange(func(activePatientID string) {
		conv.StartNewChat()
		if o.recorder != nil {
			o.recorder.PatientContextChanged(o.userID, activePatientID)
		}
	})
	return o
}

// State 返回当前提交状态。
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Partial 返回流式披露中的瞬态内容，非流式阶段为空字符串。
func (o *Orchestrator) Partial() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.partial
}

// LastQuestion 返回最近一次提交的问题，供重试提示使用。
func (o *Orchestrator) LastQuestion() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastQuestion
}

// Submit 提交一条问题并阻塞运行完整周期：
// 同步追加用户消息 → 调用答案服务 → 逐步披露 → 定稿助手消息。
// emit 在披露的每个节拍收到当前前缀，可为 nil。
// 非 Idle 状态下的并发提交返回 ErrBusy；取消不产生错误消息，
// 答案服务失败追加固定文案的错误消息并返回该错误供上层提示重试。
func (o *Orchestrator) Submit(ctx context.Context, question string, emit func(prefix string)) error {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return ErrBusy
	}
	o.state = StateSubmitting
	o.stopFlag.Store(false)
	cctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.lastQuestion = question
	o.inflight.Add(1)
	o.mu.Unlock()

	defer func() {
		cancel()
		o.mu.Lock()
		o.state = StateIdle
		o.cancel = nil
		o.partial = ""
		o.mu.Unlock()
		o.inflight.Done()
	}()

	// 用户消息先于任何网络等待同步入列
	userTurn := model.Turn{Type: model.TurnTypeUser, Content: question, Timestamp: time.Now()}
	convID := o.conv.AppendTurn(userTurn)
	o.recordTurn(convID, userTurn)

	res, err := o.client.Submit(cctx, question, o.patients.ActivePatient())
	if err != nil {
		if o.stopFlag.Load() || errors.Is(err, context.Canceled) {
			// 取消不是错误：回包前被叫停，没有任何答案可以保留
			log.Infof("用户 %d 在等待答案时取消了提交", o.userID)
			return nil
		}
		o.appendErrorTurn(capabilityErrorMessage)
		return err
	}
	if !res.OK {
		msg := res.Content
		if msg == "" {
			msg = capabilityErrorMessage
		}
		o.appendErrorTurn(msg)
		return errors.New(msg)
	}
	if o.stopFlag.Load() {
		return nil
	}

	o.mu.Lock()
	o.state = StateStreaming
	o.mu.Unlock()

	prefix, completed := o.reveal.Reveal(cctx, res.Content, func(p string) {
		o.mu.Lock()
		o.partial = p
		o.mu.Unlock()
		if emit != nil {
			emit(p)
		}
	}, o.stopFlag.Load)

	// 自然播完定稿完整内容；被叫停时保留已披露的前缀（用户已经读过它），
	// 只有在第一次披露前就被叫停时才不追加任何内容。
	if !completed && prefix == "" {
		return nil
	}
	content := res.Content
	if !completed {
		content = prefix
	}
	assistantTurn := model.Turn{
		Type:      model.TurnTypeAssistant,
		Content:   content,
		Citations: res.Citations,
		Timestamp: time.Now(),
	}
	convID = o.conv.AppendTurn(assistantTurn)
	o.recordTurn(convID, assistantTurn)
	return nil
}

// Retry 重新提交最近一次的问题。
func (o *Orchestrator) Retry(ctx context.Context, emit func(prefix string)) error {
	o.mu.Lock()
	question := o.lastQuestion
	o.mu.Unlock()
	if question == "" {
		return ErrNoLastQuestion
	}
	return o.Submit(ctx, question, emit)
}

// StopAndWait 叫停在途的提交并阻塞等待其完全结束（消息定稿、状态回到 Idle）。
// 销毁会话前必须用它而不是 Stop，否则迟到的定稿会写进已重置的存储。
// 不得在披露回调（emit）内调用，那会等待自己。
func (o *Orchestrator) StopAndWait() {
	o.Stop()
	o.inflight.Wait()
}

// Stop 叫停在途的提交：中断答案服务调用，披露循环在下一个节拍终止。
// Idle 状态下调用是无操作。
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateIdle {
		return
	}
	o.stopFlag.Store(true)
	if o.cancel != nil {
		o.cancel()
	}
}

func (o *Orchestrator) appendErrorTurn(msg string) {
	turn := model.Turn{Type: model.TurnTypeError, Content: msg, Timestamp: time.Now()}
	convID := o.conv.AppendTurn(turn)
	o.recordTurn(convID, turn)
}

func (o *Orchestrator) recordTurn(convID string, turn model.Turn) {
	if o.recorder != nil {
		o.recorder.TurnFinalized(o.userID, convID, turn)
	}
}
