package service

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wfunc/coin-hopper/internal/hardware"
	"github.com/wfunc/coin-hopper/internal/logger"
	"github.com/wfunc/coin-hopper/internal/models"
	"github.com/wfunc/coin-hopper/internal/repository"
)

// SerialLogService 串口帧日志服务，实现 hardware.FrameLogger
type SerialLogService struct {
	repo      *repository.SerialLogRepository
	logger    *zap.Logger
	debug     bool // 同时输出到模块日志
	buffer    []*models.SerialLog
	batchSize int
	interval  time.Duration
	bufferCh  chan *models.SerialLog
	stopCh    chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	sessionID string
}

// NewSerialLogService 创建串口日志服务
func NewSerialLogService(db *gorm.DB, config RecorderConfig, debug bool, log *zap.Logger) *SerialLogService {
	def := DefaultRecorderConfig()
	if config.FlushInterval <= 0 {
		config.FlushInterval = def.FlushInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.BufferSize <= 0 {
		config.BufferSize = def.BufferSize
	}
	if log == nil {
		log = zap.NewNop()
	}

	service := &SerialLogService{
		repo:      repository.NewSerialLogRepository(db),
		logger:    log,
		debug:     debug,
		buffer:    make([]*models.SerialLog, 0, config.BatchSize),
		batchSize: config.BatchSize,
		interval:  config.FlushInterval,
		bufferCh:  make(chan *models.SerialLog, config.BufferSize),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		sessionID: uuid.New().String(),
	}

	// 启动后台写入协程
	go service.backgroundWriter()

	return service
}

// SessionID 当前会话ID
func (s *SerialLogService) SessionID() string {
	return s.sessionID
}

// LogFrame 记录一帧，异步写入
func (s *SerialLogService) LogFrame(direction string, frame *hardware.Frame) {
	if frame == nil {
		return
	}
	if s.debug {
		logger.LogSerialFrame(direction, frame.Command, frame.Sequence, frame.Data)
	}

	raw := frame.ToBytes()
	now := time.Now()
	log := &models.SerialLog{
		Direction:  direction,
		Command:    fmt.Sprintf("0x%02X", frame.Command),
		Sequence:   frame.Sequence,
		HexData:    hex.EncodeToString(raw),
		BytesCount: len(raw),
		SessionID:  s.sessionID,
		CreatedAt:  now,
		Timestamp:  now.UnixMilli(),
	}

	select {
	case s.bufferCh <- log:
	default:
		s.logger.Warn("串口日志缓冲区满，丢弃日志")
	}
}

// backgroundWriter 后台写入协程
func (s *SerialLogService) backgroundWriter() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case log := <-s.bufferCh:
			s.buffer = append(s.buffer, log)
			// 如果缓冲区满了，立即写入
			if len(s.buffer) >= s.batchSize {
				s.flushBuffer()
			}

		case <-ticker.C:
			s.flushBuffer()

		case <-s.stopCh:
			// 退出前写入剩余的日志
			s.drain()
			return
		}
	}
}

func (s *SerialLogService) drain() {
	for {
		select {
		case log := <-s.bufferCh:
			s.buffer = append(s.buffer, log)
		default:
			s.flushBuffer()
			return
		}
	}
}

// flushBuffer 写入缓冲区的日志到数据库
func (s *SerialLogService) flushBuffer() {
	if len(s.buffer) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.repo.CreateBatch(ctx, s.buffer); err != nil {
		s.logger.Error("批量写入串口日志失败", zap.Error(err))
	} else {
		s.logger.Debug("批量写入串口日志成功", zap.Int("count", len(s.buffer)))
	}

	s.buffer = make([]*models.SerialLog, 0, s.batchSize)
}

// Query 查询日志
func (s *SerialLogService) Query(ctx context.Context, query *models.SerialLogQuery) ([]*models.SerialLog, int64, error) {
	return s.repo.Query(ctx, query)
}

// CleanupOldLogs 清理旧日志
func (s *SerialLogService) CleanupOldLogs(ctx context.Context, retentionDays int) (int64, error) {
	return s.repo.CleanupBefore(ctx, time.Now().AddDate(0, 0, -retentionDays))
}

// Close 关闭服务，剩余日志写完后返回
func (s *SerialLogService) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.done
}
