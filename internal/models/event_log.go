package models

import (
	"time"

	"gorm.io/gorm"
)

// EventLog 系统日志落盘记录
type EventLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `gorm:"index;not null" json:"created_at"`

	Seq        uint64    `gorm:"index;not null" json:"seq"`                   // 进程内序号，重启后从1开始
	BootID     string    `gorm:"type:varchar(36);index" json:"boot_id"`       // 启动批次
	Kind       string    `gorm:"type:varchar(32);index;not null" json:"kind"` // credit / payout_started ...
	Message    string    `gorm:"type:text" json:"message"`
	Fields     JSONData  `gorm:"type:text" json:"fields,omitempty"`
	OccurredAt time.Time `gorm:"index" json:"occurred_at"`
}

// TableName 指定表名
func (EventLog) TableName() string {
	return "event_logs"
}

// BeforeCreate 创建前的钩子
func (e *EventLog) BeforeCreate(tx *gorm.DB) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = e.CreatedAt
	}
	return nil
}

// EventLogQuery 查询参数
type EventLogQuery struct {
	Kind      string     `json:"kind,omitempty"`
	BootID    string     `json:"boot_id,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}
