package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/wfunc/coin-hopper/internal/models"
)

// SerialLogRepository 串口日志仓库
type SerialLogRepository struct {
	db *gorm.DB
}

// NewSerialLogRepository 创建串口日志仓库
func NewSerialLogRepository(db *gorm.DB) *SerialLogRepository {
	return &SerialLogRepository{
		db: db,
	}
}

// CreateBatch 批量创建日志记录
func (r *SerialLogRepository) CreateBatch(ctx context.Context, logs []*models.SerialLog) error {
	if len(logs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(logs, 100).Error
}

// Query 查询日志
func (r *SerialLogRepository) Query(ctx context.Context, query *models.SerialLogQuery) ([]*models.SerialLog, int64, error) {
	db := r.db.WithContext(ctx).Model(&models.SerialLog{})

	if query.Direction != "" {
		db = db.Where("direction = ?", query.Direction)
	}
	if query.Command != "" {
		db = db.Where("command = ?", query.Command)
	}
	if query.SessionID != "" {
		db = db.Where("session_id = ?", query.SessionID)
	}
	db = timeRange("created_at", query.StartTime, query.EndTime)(db)

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := query.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var logs []*models.SerialLog
	err := db.Order("id DESC").
		Limit(limit).
		Offset(query.Offset).
		Find(&logs).Error
	return logs, total, err
}

// CleanupBefore 清理旧日志
func (r *SerialLogRepository) CleanupBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("created_at < ?", before).Delete(&models.SerialLog{})
	return result.RowsAffected, result.Error
}
