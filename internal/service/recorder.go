package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wfunc/coin-hopper/internal/engine"
	apperrors "github.com/wfunc/coin-hopper/internal/errors"
	"github.com/wfunc/coin-hopper/internal/ledger"
	"github.com/wfunc/coin-hopper/internal/models"
	"github.com/wfunc/coin-hopper/internal/repository"
)

// RecorderConfig 持久化配置
type RecorderConfig struct {
	FlushInterval time.Duration // 批量写入间隔
	BatchSize     int           // 缓冲达到该数量立即写入
	BufferSize    int           // 通道容量，满了丢弃
}

// DefaultRecorderConfig 默认配置
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		FlushInterval: 5 * time.Second,
		BatchSize:     100,
		BufferSize:    1000,
	}
}

// Recorder 把系统日志和出币结果写入数据库。
// 尽力而为：写入失败或缓冲区满只记日志，不影响余额和出币。
type Recorder struct {
	events  repository.EventLogRepository
	payouts repository.PayoutRecordRepository
	config  RecorderConfig
	logger  *zap.Logger
	bootID  string

	entryCh  chan *models.EventLog
	payoutCh chan *models.PayoutRecord
	buffer   []*models.EventLog

	flushCh  chan chan struct{}
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	dropped  atomic.Uint64
}

// NewRecorder 创建持久化服务并启动后台写入协程
func NewRecorder(db *gorm.DB, config RecorderConfig, log *zap.Logger) *Recorder {
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

	r := &Recorder{
		events:   repository.NewEventLogRepository(db),
		payouts:  repository.NewPayoutRecordRepository(db),
		config:   config,
		logger:   log,
		bootID:   uuid.New().String(),
		entryCh:  make(chan *models.EventLog, config.BufferSize),
		payoutCh: make(chan *models.PayoutRecord, config.BufferSize),
		buffer:   make([]*models.EventLog, 0, config.BatchSize),
		flushCh:  make(chan chan struct{}),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	go r.backgroundWriter()

	return r
}

// BootID 本次启动的批次号
func (r *Recorder) BootID() string {
	return r.bootID
}

// Dropped 因缓冲区满丢弃的条数
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Write 实现 ledger.Sink
func (r *Recorder) Write(entry ledger.Entry) {
	log := &models.EventLog{
		Seq:        entry.Seq,
		BootID:     r.bootID,
		Kind:       string(entry.Kind),
		Message:    entry.Message,
		OccurredAt: entry.Time,
	}
	if len(entry.Fields) > 0 {
		log.Fields = models.JSONData(entry.Fields)
	}

	select {
	case r.entryCh <- log:
	default:
		r.dropped.Add(1)
		r.logger.Warn("系统日志缓冲区满，丢弃日志", zap.Uint64("seq", entry.Seq))
	}
}

// OnEvent 实现 engine.Listener，记录出币结果
func (r *Recorder) OnEvent(ev engine.Event) {
	if ev.Result == nil {
		return
	}
	switch ev.Type {
	case engine.EventPayoutCompleted, engine.EventPayoutStalled, engine.EventPayoutAborted:
	default:
		return
	}

	res := ev.Result
	record := &models.PayoutRecord{
		PayoutID:     res.ID,
		Amount:       res.Amount,
		Target:       res.Target,
		Dispensed:    res.Dispensed,
		Excess:       res.Excess,
		Debited:      res.Debited,
		BalanceAfter: res.Balance,
		Outcome:      string(res.Outcome),
		ErrorMsg:     res.Error,
		StartedAt:    res.StartedAt,
		FinishedAt:   res.FinishedAt,
		DurationMs:   res.Duration.Milliseconds(),
	}

	select {
	case r.payoutCh <- record:
	default:
		r.dropped.Add(1)
		r.logger.Warn("出币记录缓冲区满，丢弃记录", zap.String("payout_id", res.ID))
	}
}

// backgroundWriter 后台写入协程
func (r *Recorder) backgroundWriter() {
	defer close(r.done)

	ticker := time.NewTicker(r.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case log := <-r.entryCh:
			r.buffer = append(r.buffer, log)
			if len(r.buffer) >= r.config.BatchSize {
				r.flushBuffer()
			}

		case record := <-r.payoutCh:
			// 出币结果量小，直接写入
			r.savePayout(record)

		case <-ticker.C:
			r.flushBuffer()

		case reply := <-r.flushCh:
			r.drain()
			close(reply)

		case <-r.stopCh:
			r.drain()
			return
		}
	}
}

// drain 写入通道里剩余的数据
func (r *Recorder) drain() {
	for {
		select {
		case log := <-r.entryCh:
			r.buffer = append(r.buffer, log)
		case record := <-r.payoutCh:
			r.savePayout(record)
		default:
			r.flushBuffer()
			return
		}
	}
}

// flushBuffer 写入缓冲区的日志到数据库
func (r *Recorder) flushBuffer() {
	if len(r.buffer) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.events.BatchCreate(ctx, r.buffer); err != nil {
		r.logger.Error("批量写入系统日志失败", zap.Int("count", len(r.buffer)),
			zap.Error(apperrors.Wrap(err, apperrors.ErrDatabaseInsert)))
	} else {
		r.logger.Debug("批量写入系统日志成功", zap.Int("count", len(r.buffer)))
	}

	r.buffer = make([]*models.EventLog, 0, r.config.BatchSize)
}

func (r *Recorder) savePayout(record *models.PayoutRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.payouts.Create(ctx, record); err != nil {
		r.logger.Error("写入出币记录失败", zap.String("payout_id", record.PayoutID),
			zap.Error(apperrors.Wrap(err, apperrors.ErrDatabaseInsert)))
	}
}

// Flush 立即写入已提交的数据，写完后返回
func (r *Recorder) Flush() {
	reply := make(chan struct{})
	select {
	case r.flushCh <- reply:
	case <-r.done:
		return
	}
	select {
	case <-reply:
	case <-r.done:
	}
}

// Close 停止后台协程，剩余数据写完后返回
func (r *Recorder) Close() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.done
}

// EventLogs 分页查询持久化的系统日志
func (r *Recorder) EventLogs(ctx context.Context, query *models.EventLogQuery, pagination *repository.Pagination) ([]*models.EventLog, error) {
	return r.events.Find(ctx, query, pagination)
}

// PayoutRecords 分页查询出币记录
func (r *Recorder) PayoutRecords(ctx context.Context, query *models.PayoutRecordQuery, pagination *repository.Pagination) ([]*models.PayoutRecord, error) {
	return r.payouts.Find(ctx, query, pagination)
}

// PayoutRecord 按出币ID查询
func (r *Recorder) PayoutRecord(ctx context.Context, payoutID string) (*models.PayoutRecord, error) {
	return r.payouts.FindByPayoutID(ctx, payoutID)
}

// CleanupEventLogs 删除 days 天之前的系统日志，出币记录保留
func (r *Recorder) CleanupEventLogs(ctx context.Context, days int) (int64, error) {
	n, err := r.events.CleanupBefore(ctx, time.Now().AddDate(0, 0, -days))
	if err != nil {
		return 0, err
	}
	r.logger.Info("清理系统日志", zap.Int("days", days), zap.Int64("deleted", n))
	return n, nil
}

// PayoutStats 出币统计
func (r *Recorder) PayoutStats(ctx context.Context, start, end *time.Time) (*models.PayoutStats, error) {
	return r.payouts.Stats(ctx, start, end)
}
