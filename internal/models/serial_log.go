package models

import (
	"time"

	"gorm.io/gorm"
)

// 串口方向
const (
	SerialDirectionTx = "tx"
	SerialDirectionRx = "rx"
)

// SerialLog 串口帧日志
type SerialLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `gorm:"index;not null" json:"created_at"`

	Direction  string `gorm:"type:varchar(4);index;not null" json:"direction"` // tx / rx
	Command    string `gorm:"type:varchar(8);index" json:"command"`            // 0x01 ...
	Sequence   uint16 `gorm:"index" json:"sequence"`
	HexData    string `gorm:"type:text" json:"hex_data,omitempty"` // 整帧十六进制
	BytesCount int    `gorm:"default:0" json:"bytes_count"`

	SessionID string `gorm:"type:varchar(36);index" json:"session_id"` // 每次连接一个会话
	Timestamp int64  `gorm:"index" json:"timestamp"`                   // Unix时间戳（毫秒）
}

// TableName 指定表名
func (SerialLog) TableName() string {
	return "serial_logs"
}

// BeforeCreate 创建前的钩子
func (s *SerialLog) BeforeCreate(tx *gorm.DB) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if s.Timestamp == 0 {
		s.Timestamp = s.CreatedAt.UnixMilli()
	}
	return nil
}

// SerialLogQuery 查询参数
type SerialLogQuery struct {
	Direction string     `json:"direction,omitempty"`
	Command   string     `json:"command,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Limit     int        `json:"limit,omitempty"`
	Offset    int        `json:"offset,omitempty"`
}
