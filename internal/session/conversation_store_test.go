package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medichat-go/internal/model"
	"medichat-go/pkg/kvstore"
)

func userTurn(content string) model.Turn {
	return model.Turn{Type: model.TurnTypeUser, Content: content, Timestamp: time.Now()}
}

func assistantTurn(content string) model.Turn {
	return model.Turn{Type: model.TurnTypeAssistant, Content: content, Timestamp: time.Now()}
}

func TestAppendTurnSameSubmissionLandsInOneConversation(t *testing.T) {
	s := NewConversationStore(kvstore.NewMemoryStore(), 1)

	id1 := s.AppendTurn(userTurn("血压多少算高？"))
	id2 := s.AppendTurn(assistantTurn("<p>一般认为…</p>"))

	assert.Equal(t, id1, id2)
	convs := s.Conversations()
	require.Len(t, convs, 1)
	require.Len(t, convs[0].Turns, 2)
	assert.Equal(t, model.TurnTypeUser, convs[0].Turns[0].Type)
	assert.Equal(t, model.TurnTypeAssistant, convs[0].Turns[1].Type)
}

func TestAppendTurnCreatesFreshConversationAfterNewChat(t *testing.T) {
	s := NewConversationStore(kvstore.NewMemoryStore(), 1)

	first := s.AppendTurn(userTurn("第一个问题"))
	s.StartNewChat()
	second := s.AppendTurn(userTurn("第二个问题"))

	assert.NotEqual(t, first, second)
	convs := s.Conversations()
	require.Len(t, convs, 2)
	// 最近的对话排在最前
	assert.Equal(t, second, convs[0].ID)
	assert.Equal(t, first, convs[1].ID)
}

func TestDeriveTitleStripsMarkupAndTruncates(t *testing.T) {
	s := NewConversationStore(kvstore.NewMemoryStore(), 1)

	long := "<p>Hello <b>world</b>, " + strings.Repeat("a", 60) + "</p>"
	s.AppendTurn(userTurn(long))

	title := s.Conversations()[0].Title
	assert.NotContains(t, title, "<")
	assert.NotContains(t, title, ">")
	assert.LessOrEqual(t, len([]rune(title)), titleRuneLimit+1)
	assert.True(t, strings.HasSuffix(title, "…"))
}

func TestDeriveTitleShortContentKeptVerbatim(t *testing.T) {
	s := NewConversationStore(kvstore.NewMemoryStore(), 1)

	s.AppendTurn(userTurn("短问题"))
	assert.Equal(t, "短问题", s.Conversations()[0].Title)
}

func TestMessagesDerivedFromCurrentConversation(t *testing.T) {
	s := NewConversationStore(kvstore.NewMemoryStore(), 1)

	first := s.AppendTurn(userTurn("问题一"))
	s.StartNewChat()
	s.AppendTurn(userTurn("问题二"))

	require.NoError(t, s.SelectConversation(first))
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "问题一", msgs[0].Content)
}

func TestSelectConversationUnknownID(t *testing.T) {
	s := NewConversationStore(kvstore.NewMemoryStore(), 1)
	assert.ErrorIs(t, s.SelectConversation("nope"), ErrConversationNotFound)
}

func TestDeleteConversationClearsCurrentSelection(t *testing.T) {
	s := NewConversationStore(kvstore.NewMemoryStore(), 1)

	id := s.AppendTurn(userTurn("会被删掉"))
	require.NoError(t, s.DeleteConversation(id))

	assert.Empty(t, s.CurrentConversationID())
	assert.Empty(t, s.Conversations())
	assert.Empty(t, s.Messages())
}

func TestConversationsPersistAcrossReload(t *testing.T) {
	store := kvstore.NewMemoryStore()

	s1 := NewConversationStore(store, 1)
	s1.AppendTurn(userTurn("持久化测试"))

	s2 := NewConversationStore(store, 1)
	convs := s2.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, "持久化测试", convs[0].Turns[0].Content)
	// 重新加载不继承"当前对话"，那是会话内状态
	assert.Empty(t, s2.CurrentConversationID())
}

func TestConversationsScopedPerUser(t *testing.T) {
	store := kvstore.NewMemoryStore()

	s1 := NewConversationStore(store, 1)
	s1.AppendTurn(userTurn("用户 1 的问题"))

	s2 := NewConversationStore(store, 2)
	assert.Empty(t, s2.Conversations())
}

func TestUpdateTitle(t *testing.T) {
	s := NewConversationStore(kvstore.NewMemoryStore(), 1)

	id := s.AppendTurn(userTurn("原始标题来源"))
	require.NoError(t, s.UpdateTitle(id, "改名后"))
	assert.Equal(t, "改名后", s.Conversations()[0].Title)
}
