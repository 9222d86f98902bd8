package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"medichat-go/internal/session"
	"medichat-go/pkg/log"
)

// ConversationHandler 负责处理历史对话相关的 API 请求。
type ConversationHandler struct {
	sessions *session.Manager
}

// NewConversationHandler 创建一个新的 ConversationHandler 实例。
func NewConversationHandler(sessions *session.Manager) *ConversationHandler {
	return &ConversationHandler{sessions: sessions}
}

// List 返回当前用户的对话列表，最新的排在最前。
func (h *ConversationHandler) List(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	sess := h.sessions.Get(user.ID)
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"conversations": sess.Conversations.Conversations(),
			"currentId":     sess.Conversations.CurrentConversationID(),
		},
	})
}

// Messages 返回当前对话的消息序列。
func (h *ConversationHandler) Messages(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	sess := h.sessions.Get(user.ID)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": sess.Conversations.Messages(), "message": "success"})
}

// Select 切换到一条历史对话，后续提问在其上继续。
func (h *ConversationHandler) Select(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	sess := h.sessions.Get(user.ID)
	if err := sess.Conversations.SelectConversation(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "对话不存在"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": sess.Conversations.Messages(), "message": "success"})
}

// New 开启一轮全新对话。对话记录在第一条消息时才真正建立。
func (h *ConversationHandler) New(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	sess := h.sessions.Get(user.ID)
	sess.Conversations.StartNewChat()
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "已开启新对话"})
}

// UpdateTitleRequest 定义了重命名对话 API 的请求体结构。
type UpdateTitleRequest struct {
	Title string `json:"title" binding:"required"`
}

// UpdateTitle 重命名一条历史对话。
func (h *ConversationHandler) UpdateTitle(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var req UpdateTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载：title 不能为空",
		})
		return
	}

	sess := h.sessions.Get(user.ID)
	if err := sess.Conversations.UpdateTitle(c.Param("id"), req.Title); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "对话不存在"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "标题已更新"})
}

// Delete 删除一条历史对话。删除当前对话时回到空白状态。
func (h *ConversationHandler) Delete(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	sess := h.sessions.Get(user.ID)
	if err := sess.Conversations.DeleteConversation(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "对话不存在"})
		return
	}
	log.Infof("用户 %d 删除了对话 %s", user.ID, c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "对话已删除"})
}
