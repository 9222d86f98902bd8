// Package session 实现了单个已登录用户的会话核心：
// 病人上下文、对话历史、答案披露动画与提交编排。
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"medichat-go/internal/model"
	"medichat-go/pkg/kvstore"
	"medichat-go/pkg/log"
)

// titleRuneLimit 是对话标题的可见字符上限，超出部分以省略号收尾。
const titleRuneLimit = 30

// ErrConversationNotFound 表示目标对话不在当前用户的对话列表中。
var ErrConversationNotFound = errors.New("对话不存在")

// ConversationStore 持有一个用户的对话列表与当前选中的对话。
// 对话按最近优先排列，列表的每次变更都会整体写回 KV 存储。
type ConversationStore struct {
	mu     sync.Mutex
	store  kvstore.Store
	userID uint

	conversations []model.Conversation
	// currentID 是"当前对话"的唯一权威来源。追加路径在持锁期间同步更新它，
	// 因此同一提交周期内的连续追加（用户消息紧跟助手消息）必然落进同一个对话；
	// 持久化与对外暴露的状态只是事后的投影。
	currentID string
}

// NewConversationStore 创建并从 KV 存储加载一个用户的对话状态。
func NewConversationStore(store kvstore.Store, userID uint) *ConversationStore {
	s := &ConversationStore{store: store, userID: userID}
	s.load()
	return s
}

func (s *ConversationStore) storageKey() string {
	return fmt.Sprintf("user:%d:conversations", s.userID)
}

func (s *ConversationStore) load() {
	raw, ok := s.store.Get(context.Background(), s.storageKey())
	if !ok {
		return
	}
	var conversations []model.Conversation
	if err := json.Unmarshal([]byte(raw), &conversations); err != nil {
		log.Warnf("加载用户 %d 的对话列表失败，按空列表处理: %v", s.userID, err)
		return
	}
	s.conversations = conversations
}

// persist 在持锁状态下调用，将整份对话列表写回存储。写失败由 kvstore 记录并吞掉。
func (s *ConversationStore) persist() {
	data, err := json.Marshal(s.conversations)
	if err != nil {
		log.Errorf("序列化用户 %d 的对话列表失败: %v", s.userID, err)
		return
	}
	s.store.Set(context.Background(), s.storageKey(), string(data))
}

// Conversations 返回对话列表的副本，最近更新的在前。
func (s *ConversationStore) Conversations() []model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Conversation, len(s.conversations))
	copy(out, s.conversations)
	return out
}

// CurrentConversationID 返回当前选中对话的 id，无选中时为空字符串。
func (s *ConversationStore) CurrentConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID
}

// Messages 返回当前对话的消息序列（派生视图，不可单独设置）。
func (s *ConversationStore) Messages() []model.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.conversations {
		if s.conversations[i].ID == s.currentID {
			out := make([]model.Turn, len(s.conversations[i].Turns))
			copy(out, s.conversations[i].Turns)
			return out
		}
	}
	return []model.Turn{}
}

// StartNewChat 清空当前对话选择，下一条消息将开启新对话。
func (s *ConversationStore) StartNewChat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentID = ""
}

// SelectConversation 将指定对话设为当前对话。
func (s *ConversationStore) SelectConversation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			s.currentID = id
			return nil
		}
	}
	log.Warnf("用户 %d 选择了不存在的对话: %s", s.userID, id)
	return ErrConversationNotFound
}

// AppendTurn 将一条消息追加到当前对话；没有当前对话时惰性创建新对话，
// 标题取自这条消息的内容（剥除标记、截断到 30 个可见字符）。
// 返回消息落入的对话 id。
func (s *ConversationStore) AppendTurn(turn model.Turn) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if s.currentID == "" {
		conv := model.Conversation{
			ID:        fmt.Sprintf("%d-%d", now.UnixNano(), s.userID),
			Title:     deriveTitle(turn.Content),
			Turns:     []model.Turn{turn},
			Timestamp: now,
		}
		// 新对话排在最前，随后的追加在锁释放前就能看到新 id
		s.conversations = append([]model.Conversation{conv}, s.conversations...)
		s.currentID = conv.ID
		s.persist()
		return conv.ID
	}

	for i := range s.conversations {
		if s.conversations[i].ID == s.currentID {
			s.conversations[i].Turns = append(s.conversations[i].Turns, turn)
			s.conversations[i].Timestamp = now
			s.persist()
			return s.currentID
		}
	}

	// currentID 指向的对话已不存在（理论上 Delete 会同步清掉 id），兜底重建
	log.Warnf("用户 %d 的当前对话 %s 不在列表中，已重建", s.userID, s.currentID)
	conv := model.Conversation{
		ID:        s.currentID,
		Title:     deriveTitle(turn.Content),
		Turns:     []model.Turn{turn},
		Timestamp: now,
	}
	s.conversations = append([]model.Conversation{conv}, s.conversations...)
	s.persist()
	return s.currentID
}

// UpdateTitle 修改指定对话的标题。
func (s *ConversationStore) UpdateTitle(id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			s.conversations[i].Title = title
			s.persist()
			return nil
		}
	}
	return ErrConversationNotFound
}

// DeleteConversation 删除指定对话；若它正是当前对话，同时清空当前选择。
func (s *ConversationStore) DeleteConversation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			s.conversations = append(s.conversations[:i], s.conversations[i+1:]...)
			if s.currentID == id {
				s.currentID = ""
			}
			s.persist()
			return nil
		}
	}
	return ErrConversationNotFound
}

// Reset 丢弃全部内存状态。登出或切换用户时调用，避免跨用户串数据。
func (s *ConversationStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = nil
	s.currentID = ""
}

// deriveTitle 从消息内容派生对话标题：剥除内嵌标记，
// 截断到 titleRuneLimit 个可见字符，截断时追加省略号。
func deriveTitle(content string) string {
	plain := strings.TrimSpace(stripMarkup(content))
	runes := []rune(plain)
	if len(runes) <= titleRuneLimit {
		return plain
	}
	return string(runes[:titleRuneLimit]) + "…"
}

// stripMarkup 移除形如 <tag ...> 的片段。未闭合的 '<' 按普通字符保留。
func stripMarkup(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		if runes[i] == '<' {
			closed := -1
			for j := i + 1; j < len(runes); j++ {
				if runes[j] == '>' {
					closed = j
					break
				}
			}
			if closed >= 0 {
				i = closed
				continue
			}
		}
		b.WriteRune(runes[i])
	}
	return b.String()
}
