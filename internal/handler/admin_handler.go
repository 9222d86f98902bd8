package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"medichat-go/internal/service"
	"medichat-go/pkg/log"
)

// AdminHandler 负责处理管理端的 API 请求。
type AdminHandler struct {
	adminService service.AdminService
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(adminService service.AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

// ListUsers 分页返回注册用户。
// GET /admin/users?page=1&size=20
func (h *AdminHandler) ListUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))

	users, total, err := h.adminService.ListUsers(page, size)
	if err != nil {
		log.Errorf("查询用户列表失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询用户列表失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"users": users,
			"total": total,
			"page":  page,
			"size":  size,
		},
	})
}

// ListEvents 分页返回会话审计事件，可按 userId 过滤。
// GET /admin/events?userId=0&page=1&size=20
func (h *AdminHandler) ListEvents(c *gin.Context) {
	userID, _ := strconv.ParseUint(c.DefaultQuery("userId", "0"), 10, 64)
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))

	records, total, err := h.adminService.ListEvents(uint(userID), page, size)
	if err != nil {
		log.Errorf("查询审计事件失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询审计事件失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"events": records,
			"total":  total,
			"page":   page,
			"size":   size,
		},
	})
}

// RecentEvents 返回最近的会话审计事件。
// GET /admin/events/recent?limit=50
func (h *AdminHandler) RecentEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	records, err := h.adminService.RecentEvents(limit)
	if err != nil {
		log.Errorf("查询最近审计事件失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询审计事件失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": records, "message": "success"})
}
