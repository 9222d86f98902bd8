package repository

import (
	"gorm.io/gorm"

	"medichat-go/internal/model"
)

// EventRepository 接口定义了会话审计事件的持久化操作。
type EventRepository interface {
	Create(event *model.SessionEventRecord) error
	FindRecent(limit int) ([]model.SessionEventRecord, error)
	FindWithPagination(userID uint, offset, limit int) ([]model.SessionEventRecord, int64, error)
}

// eventRepository 是 EventRepository 接口的 GORM 实现。
type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository 创建一个新的 EventRepository 实例。
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

// Create 在数据库中写入一条会话事件。
func (r *eventRepository) Create(event *model.SessionEventRecord) error {
	return r.db.Create(event).Error
}

// FindRecent 按时间倒序返回最近的会话事件。
func (r *eventRepository) FindRecent(limit int) ([]model.SessionEventRecord, error) {
	var events []model.SessionEventRecord
	err := r.db.Order("occurred_at DESC").Limit(limit).Find(&events).Error
	return events, err
}

// FindWithPagination 分页检索某个用户的会话事件；userID 为 0 时不过滤。
func (r *eventRepository) FindWithPagination(userID uint, offset, limit int) ([]model.SessionEventRecord, int64, error) {
	var events []model.SessionEventRecord
	var total int64

	db := r.db.Model(&model.SessionEventRecord{})
	if userID != 0 {
		db = db.Where("user_id = ?", userID)
	}

	err := db.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = db.Order("occurred_at DESC").Offset(offset).Limit(limit).Find(&events).Error
	if err != nil {
		return nil, 0, err
	}

	return events, total, nil
}
