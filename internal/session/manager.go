package session

import (
	"sync"

	"medichat-go/pkg/answer"
	"medichat-go/pkg/kvstore"
	"medichat-go/pkg/log"
)

// Session 聚合一个已登录用户的全部会话状态。
// 在登录后的首次访问时构建，登出时整体销毁，组件之间的耦合
//（病人切换重置对话）在构建时就已挂接完毕。
type Session struct {
	UserID        uint
	Patients      *PatientStore
	Conversations *ConversationStore
	Orchestrator  *Orchestrator
}

// Manager 管理按用户隔离的会话对象的生命周期。
type Manager struct {
	mu       sync.Mutex
	sessions map[uint]*Session

	store    kvstore.Store
	client   answer.Client
	reveal   *RevealController
	recorder Recorder
}

// NewManager 创建会话管理器。recorder 可为 nil（无事件旁路）。
func NewManager(store kvstore.Store, client answer.Client, reveal *RevealController, recorder Recorder) *Manager {
	return &Manager{
		sessions: make(map[uint]*Session),
		store:    store,
		client:   client,
		reveal:   reveal,
		recorder: recorder,
	}
}

// Get 返回用户的会话，首次访问时惰性构建并从存储恢复状态。
func (m *Manager) Get(userID uint) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[userID]; ok {
		return sess
	}

	conv := NewConversationStore(m.store, userID)
	patients := NewPatientStore(m.store, userID)
	orch := NewOrchestrator(conv, patients, m.client, m.reveal, m.recorder, userID)
	sess := &Session{
		UserID:        userID,
		Patients:      patients,
		Conversations: conv,
		Orchestrator:  orch,
	}
	m.sessions[userID] = sess
	log.Infof("已为用户 %d 构建会话", userID)
	return sess
}

// Close 销毁用户的会话：叫停在途提交并丢弃全部内存状态。
// 持久化数据保留，下次登录时重新加载。
func (m *Manager) Close(userID uint) {
	m.mu.Lock()
	sess, ok := m.sessions[userID]
	if ok {
		delete(m.sessions, userID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	// 先等在途的提交彻底定稿，再重置存储；顺序颠倒会让迟到的
	// 定稿以空列表为基础整体覆盖持久化的对话
	sess.Orchestrator.StopAndWait()
	sess.Conversations.Reset()
	sess.Patients.Reset()
	log.Infof("已销毁用户 %d 的会话", userID)
}
