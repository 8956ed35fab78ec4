package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/wfunc/coin-hopper/internal/errors"
	"github.com/wfunc/coin-hopper/internal/models"
)

// PayoutRecordRepository 出币记录仓储接口
type PayoutRecordRepository interface {
	BaseRepository
	Create(ctx context.Context, record *models.PayoutRecord) error
	FindByPayoutID(ctx context.Context, payoutID string) (*models.PayoutRecord, error)
	Find(ctx context.Context, query *models.PayoutRecordQuery, pagination *Pagination) ([]*models.PayoutRecord, error)
	Stats(ctx context.Context, start, end *time.Time) (*models.PayoutStats, error)
}

type payoutRecordRepo struct {
	*BaseRepo
}

// NewPayoutRecordRepository 创建出币记录仓储
func NewPayoutRecordRepository(db *gorm.DB) PayoutRecordRepository {
	return &payoutRecordRepo{
		BaseRepo: NewBaseRepo(db),
	}
}

// Create 创建记录
func (r *payoutRecordRepo) Create(ctx context.Context, record *models.PayoutRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// FindByPayoutID 按出币ID查询
func (r *payoutRecordRepo) FindByPayoutID(ctx context.Context, payoutID string) (*models.PayoutRecord, error) {
	var record models.PayoutRecord
	err := r.db.WithContext(ctx).Where("payout_id = ?", payoutID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.ErrNotFound, "出币记录不存在")
		}
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return &record, nil
}

// Find 按条件分页查询，最新的在前
func (r *payoutRecordRepo) Find(ctx context.Context, query *models.PayoutRecordQuery, pagination *Pagination) ([]*models.PayoutRecord, error) {
	if query == nil {
		query = &models.PayoutRecordQuery{}
	}
	if pagination == nil {
		pagination = NewPagination(1, 20)
	}

	db := r.db.WithContext(ctx).Model(&models.PayoutRecord{})
	if query.Outcome != "" {
		db = db.Where("outcome = ?", query.Outcome)
	}
	db = timeRange("started_at", query.StartTime, query.EndTime)(db)

	if err := db.Count(&pagination.Total).Error; err != nil {
		return nil, err
	}

	var records []*models.PayoutRecord
	err := db.Scopes(Paginate(pagination)).
		Order("started_at DESC").
		Order("id DESC").
		Find(&records).Error
	return records, err
}

// Stats 出币统计
func (r *payoutRecordRepo) Stats(ctx context.Context, start, end *time.Time) (*models.PayoutStats, error) {
	var rows []struct {
		Outcome   string
		Count     int64
		Dispensed int64
		Debited   int64
	}

	err := r.db.WithContext(ctx).Model(&models.PayoutRecord{}).
		Scopes(timeRange("started_at", start, end)).
		Select("outcome, COUNT(*) AS count, COALESCE(SUM(dispensed), 0) AS dispensed, COALESCE(SUM(debited), 0) AS debited").
		Group("outcome").
		Scan(&rows).Error
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}

	stats := &models.PayoutStats{}
	for _, row := range rows {
		stats.Total += row.Count
		stats.TotalDispensed += row.Dispensed
		stats.TotalDebited += row.Debited
		switch row.Outcome {
		case "completed":
			stats.Completed = row.Count
		case "stalled":
			stats.Stalled = row.Count
		case "aborted":
			stats.Aborted = row.Count
		}
	}
	return stats, nil
}
