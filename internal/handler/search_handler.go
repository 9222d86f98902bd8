package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"medichat-go/internal/service"
	"medichat-go/pkg/log"
)

// SearchHandler 负责处理对话内容检索的 API 请求。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

// Search 在当前用户的历史消息中检索。
// GET /search?q=...&topK=10
func (h *SearchHandler) Search(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "检索关键词不能为空"})
		return
	}
	topK, _ := strconv.Atoi(c.DefaultQuery("topK", "10"))

	hits, err := h.searchService.Search(c.Request.Context(), user.ID, query, topK)
	if err != nil {
		log.Errorf("对话检索失败: user=%d, query=%s, error: %v", user.ID, query, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "检索失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": hits, "message": "success"})
}
