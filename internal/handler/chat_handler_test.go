package handler

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medichat-go/internal/model"
	"medichat-go/internal/session"
	"medichat-go/pkg/answer"
	"medichat-go/pkg/kvstore"
	"medichat-go/pkg/token"
)

// fakeUserService 返回固定的用户档案。
type fakeUserService struct {
	user *model.User
}

func (f *fakeUserService) Register(username, password string) (*model.User, error) {
	return f.user, nil
}

func (f *fakeUserService) Login(username, password string) (string, string, error) {
	return "", "", nil
}

func (f *fakeUserService) GetProfile(username string) (*model.User, error) {
	return f.user, nil
}

func (f *fakeUserService) Logout(tokenString string) error { return nil }

func (f *fakeUserService) RefreshToken(refreshTokenString string) (string, string, error) {
	return "", "", nil
}

// failingAnswerClient 模拟答案服务不可达。
type failingAnswerClient struct{}

func (failingAnswerClient) Submit(ctx context.Context, question string, patient *model.PatientRecord) (*answer.Result, error) {
	return nil, errors.New("connection refused")
}

func TestChatCapabilityErrorHasNoCompletionFrame(t *testing.T) {
	gin.SetMode(gin.TestMode)

	jwtManager := token.NewJWTManager("test-secret", 1, 1)
	tok, err := jwtManager.GenerateToken(1, "doctor", "USER")
	require.NoError(t, err)

	users := &fakeUserService{user: &model.User{ID: 1, Username: "doctor", Role: "USER"}}
	sessions := session.NewManager(
		kvstore.NewMemoryStore(),
		failingAnswerClient{},
		session.NewRevealController(time.Millisecond, 15, 150),
		nil,
	)
	h := NewChatHandler(sessions, users, jwtManager)

	r := gin.New()
	r.GET("/chat/:token", h.Handle)
	srv := httptest.NewServer(r)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/" + tok
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "question", "content": "会失败的问题"}))

	var payload map[string]interface{}
	require.NoError(t, conn.ReadJSON(&payload))
	assert.Equal(t, "error", payload["type"])

	// 失败的提问到错误帧为止，后面不再跟 completion 帧
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	err = conn.ReadJSON(&payload)
	require.Error(t, err)
}
