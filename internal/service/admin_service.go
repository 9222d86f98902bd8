package service

import (
	"medichat-go/internal/model"
	"medichat-go/internal/repository"
)

// AdminUserInfo 是返回给管理端的用户信息，时间字段按本地格式序列化。
type AdminUserInfo struct {
	ID        uint            `json:"id"`
	Username  string          `json:"username"`
	Role      string          `json:"role"`
	CreatedAt model.LocalTime `json:"createdAt"`
}

// AdminService 接口定义了管理端的查询操作。
type AdminService interface {
	ListUsers(page, size int) ([]AdminUserInfo, int64, error)
	ListEvents(userID uint, page, size int) ([]model.SessionEventRecord, int64, error)
	RecentEvents(limit int) ([]model.SessionEventRecord, error)
}

// adminService 是 AdminService 接口的实现。
type adminService struct {
	userRepo  repository.UserRepository
	eventRepo repository.EventRepository
}

// NewAdminService 创建一个新的 AdminService 实例。
func NewAdminService(userRepo repository.UserRepository, eventRepo repository.EventRepository) AdminService {
	return &adminService{
		userRepo:  userRepo,
		eventRepo: eventRepo,
	}
}

// ListUsers 分页返回注册用户。
func (s *adminService) ListUsers(page, size int) ([]AdminUserInfo, int64, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}

	users, total, err := s.userRepo.FindWithPagination((page-1)*size, size)
	if err != nil {
		return nil, 0, err
	}

	infos := make([]AdminUserInfo, 0, len(users))
	for _, u := range users {
		infos = append(infos, AdminUserInfo{
			ID:        u.ID,
			Username:  u.Username,
			Role:      u.Role,
			CreatedAt: model.LocalTime(u.CreatedAt),
		})
	}
	return infos, total, nil
}

// ListEvents 分页返回会话审计事件；userID 为 0 时返回全部用户。
func (s *adminService) ListEvents(userID uint, page, size int) ([]model.SessionEventRecord, int64, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	return s.eventRepo.FindWithPagination(userID, (page-1)*size, size)
}

// RecentEvents 返回最近的会话审计事件。
func (s *adminService) RecentEvents(limit int) ([]model.SessionEventRecord, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	return s.eventRepo.FindRecent(limit)
}
