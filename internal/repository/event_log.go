package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/wfunc/coin-hopper/internal/models"
)

// EventLogRepository 系统日志仓储接口
type EventLogRepository interface {
	BaseRepository
	Create(ctx context.Context, log *models.EventLog) error
	BatchCreate(ctx context.Context, logs []*models.EventLog) error
	Find(ctx context.Context, query *models.EventLogQuery, pagination *Pagination) ([]*models.EventLog, error)
	CleanupBefore(ctx context.Context, before time.Time) (int64, error)
}

// eventLogRepo 系统日志仓储实现
type eventLogRepo struct {
	*BaseRepo
}

// NewEventLogRepository 创建系统日志仓储
func NewEventLogRepository(db *gorm.DB) EventLogRepository {
	return &eventLogRepo{
		BaseRepo: NewBaseRepo(db),
	}
}

// Create 创建日志
func (r *eventLogRepo) Create(ctx context.Context, log *models.EventLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// BatchCreate 批量创建日志
func (r *eventLogRepo) BatchCreate(ctx context.Context, logs []*models.EventLog) error {
	if len(logs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(logs, 100).Error
}

// Find 按条件分页查询，最新的在前
func (r *eventLogRepo) Find(ctx context.Context, query *models.EventLogQuery, pagination *Pagination) ([]*models.EventLog, error) {
	if query == nil {
		query = &models.EventLogQuery{}
	}
	if pagination == nil {
		pagination = NewPagination(1, 20)
	}

	db := r.db.WithContext(ctx).Model(&models.EventLog{})
	if query.Kind != "" {
		db = db.Where("kind = ?", query.Kind)
	}
	if query.BootID != "" {
		db = db.Where("boot_id = ?", query.BootID)
	}
	db = timeRange("occurred_at", query.StartTime, query.EndTime)(db)

	if err := db.Count(&pagination.Total).Error; err != nil {
		return nil, err
	}

	var logs []*models.EventLog
	err := db.Scopes(Paginate(pagination)).
		Order("occurred_at DESC").
		Order("id DESC").
		Find(&logs).Error
	return logs, err
}

// CleanupBefore 删除指定时间之前的日志
func (r *eventLogRepo) CleanupBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("occurred_at < ?", before).Delete(&models.EventLog{})
	return result.RowsAffected, result.Error
}
