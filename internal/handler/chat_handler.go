package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"medichat-go/internal/service"
	"medichat-go/internal/session"
	"medichat-go/pkg/log"
	"medichat-go/pkg/token"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理 WebSocket 问答连接。
type ChatHandler struct {
	sessions      *session.Manager
	userService   service.UserService
	jwtManager    *token.JWTManager
	stopToken     string
	stopTokenLock sync.Mutex
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(sessions *session.Manager, userService service.UserService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{
		sessions:    sessions,
		userService: userService,
		jwtManager:  jwtManager,
	}
}

// GetWebsocketStopToken 返回一个可用于停止披露的令牌。
func (h *ChatHandler) GetWebsocketStopToken(c *gin.Context) {
	h.stopTokenLock.Lock()
	defer h.stopTokenLock.Unlock()
	// 在真实的多服务器设置中，这应该在 Redis 中生成和存储。
	// 为简单起见，我们在这里使用一个单一的、轮换的令牌。
	h.stopToken = "WSS_STOP_CMD_" + token.GenerateRandomString(16)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"cmdToken": h.stopToken}})
}

// wsWriter 串行化对同一连接的并发写。
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) send(payload interface{}) {
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.WriteMessage(websocket.TextMessage, b)
}

// inboundMessage 是客户端经由 WebSocket 发来的指令。
type inboundMessage struct {
	Type     string `json:"type"` // question / retry / stop
	Content  string `json:"content"`
	CmdToken string `json:"_internal_cmd_token"`
}

// Handle 处理一个传入的 WebSocket 连接。
// 提问在独立协程中执行，读循环保持畅通以便随时接收停止指令。
func (h *ChatHandler) Handle(c *gin.Context) {
	tokenString := c.Param("token")
	claims, err := h.jwtManager.VerifyToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	user, err := h.userService.GetProfile(claims.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立，用户: %s", claims.Username)

	sess := h.sessions.Get(user.ID)
	writer := &wsWriter{conn: conn}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		var msg inboundMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			// 非 JSON 消息按纯文本提问处理
			msg = inboundMessage{Type: "question", Content: string(message)}
		}

		switch msg.Type {
		case "stop":
			h.stopTokenLock.Lock()
			valid := msg.CmdToken == h.stopToken
			h.stopTokenLock.Unlock()
			if !valid {
				writer.send(gin.H{"type": "error", "message": "无效的停止令牌"})
				continue
			}
			sess.Orchestrator.Stop()
			writer.send(gin.H{
				"type":      "stop",
				"message":   "响应已停止",
				"timestamp": time.Now().UnixMilli(),
				"date":      time.Now().Format("2006-01-02T15:04:05"),
			})

		case "retry":
			go h.run(writer, sess, func(emit func(string)) error {
				return sess.Orchestrator.Retry(context.Background(), emit)
			})

		case "question":
			question := msg.Content
			go h.run(writer, sess, func(emit func(string)) error {
				return sess.Orchestrator.Submit(context.Background(), question, emit)
			})

		default:
			writer.send(gin.H{"type": "error", "message": "未知的消息类型"})
		}
	}
}

// run 执行一次提问并把披露进度与完成通知推给客户端。
func (h *ChatHandler) run(writer *wsWriter, sess *session.Session, invoke func(emit func(string)) error) {
	emit := func(prefix string) {
		writer.send(gin.H{"type": "partial", "content": prefix})
	}

	err := invoke(emit)
	switch {
	case errors.Is(err, session.ErrBusy):
		writer.send(gin.H{"type": "error", "message": "仍有问题在处理中，请先停止或等待完成"})
		return
	case errors.Is(err, session.ErrNoLastQuestion):
		writer.send(gin.H{"type": "error", "message": "没有可重试的问题"})
		return
	case err != nil:
		// 错误消息已追加到对话，这里只提示前端刷新；失败的提问没有 completion 帧
		writer.send(gin.H{"type": "error", "message": "AI 服务暂时不可用，请稍后重试"})
		return
	}

	writer.send(gin.H{
		"type":      "completion",
		"status":    "finished",
		"message":   "响应已完成",
		"timestamp": time.Now().UnixMilli(),
		"date":      time.Now().Format("2006-01-02T15:04:05"),
	})
}
