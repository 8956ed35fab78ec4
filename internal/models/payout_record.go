package models

import (
	"time"

	"gorm.io/gorm"
)

// PayoutRecord 出币结果记录
type PayoutRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `gorm:"index;not null" json:"created_at"`

	PayoutID     string    `gorm:"type:varchar(36);uniqueIndex;not null" json:"payout_id"`
	Amount       uint32    `gorm:"not null" json:"amount"`                         // 请求金额
	Target       uint32    `gorm:"not null" json:"target"`                         // 目标枚数
	Dispensed    uint32    `gorm:"not null" json:"dispensed"`                      // 实际反馈枚数
	Excess       uint32    `gorm:"default:0" json:"excess"`                        // 超出目标的枚数
	Debited      int64     `gorm:"not null" json:"debited"`                        // 实际扣款
	BalanceAfter int64     `gorm:"not null" json:"balance_after"`                  // 结算后余额
	Outcome      string    `gorm:"type:varchar(16);index;not null" json:"outcome"` // completed / stalled / aborted
	ErrorMsg     string    `gorm:"type:text" json:"error_msg,omitempty"`
	StartedAt    time.Time `gorm:"index" json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	DurationMs   int64     `json:"duration_ms"`
}

// TableName 指定表名
func (PayoutRecord) TableName() string {
	return "payout_records"
}

// BeforeCreate 创建前的钩子
func (p *PayoutRecord) BeforeCreate(tx *gorm.DB) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	return nil
}

// PayoutRecordQuery 查询参数
type PayoutRecordQuery struct {
	Outcome   string     `json:"outcome,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

// PayoutStats 出币统计
type PayoutStats struct {
	Total          int64 `json:"total"`
	Completed      int64 `json:"completed"`
	Stalled        int64 `json:"stalled"`
	Aborted        int64 `json:"aborted"`
	TotalDispensed int64 `json:"total_dispensed"`
	TotalDebited   int64 `json:"total_debited"`
}
