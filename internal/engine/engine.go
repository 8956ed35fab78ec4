// Package engine 投币入账与出币控制核心。
//
// 引擎持有两个脉冲计数器、余额账本、系统日志、入账任务和出币状态机。
// 所有账本和状态修改都在同一把引擎锁内完成；硬件侧的边沿回调只操作原子计数器。
// 事件在锁内编号，释放锁之后按编号顺序同步分发给监听者。
package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/wfunc/coin-hopper/internal/errors"
	"github.com/wfunc/coin-hopper/internal/ledger"
	"github.com/wfunc/coin-hopper/internal/pulse"
)

// Config 引擎参数，启动时确定
type Config struct {
	PulseUnitValue int64         // 每个投币脉冲的面值
	CoinValue      int64         // 每枚出币的面值
	IntakeInterval time.Duration // 入账周期
	PayoutInterval time.Duration // 出币监控周期
	StallTimeout   time.Duration // 卡币超时，0 表示不检测
	LogCapacity    int           // 系统日志内存窗口
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		PulseUnitValue: 10,
		CoinValue:      10,
		IntakeInterval: 100 * time.Millisecond,
		PayoutInterval: 50 * time.Millisecond,
		StallTimeout:   30 * time.Second,
		LogCapacity:    ledger.DefaultCapacity,
	}
}

// Validate 检查参数
func (c Config) Validate() error {
	switch {
	case c.PulseUnitValue <= 0:
		return apperrors.Newf(apperrors.ErrConfigValidate, "pulse unit value must be positive, got %d", c.PulseUnitValue)
	case c.CoinValue <= 0:
		return apperrors.Newf(apperrors.ErrConfigValidate, "coin value must be positive, got %d", c.CoinValue)
	case c.IntakeInterval <= 0:
		return apperrors.Newf(apperrors.ErrConfigValidate, "intake interval must be positive, got %s", c.IntakeInterval)
	case c.PayoutInterval <= 0:
		return apperrors.Newf(apperrors.ErrConfigValidate, "payout interval must be positive, got %s", c.PayoutInterval)
	case c.StallTimeout < 0:
		return apperrors.Newf(apperrors.ErrConfigValidate, "stall timeout must not be negative, got %s", c.StallTimeout)
	}
	return nil
}

// Option 引擎选项
type Option func(*Engine)

// WithLogger 设置日志器
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock 设置时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine 入账与出币引擎
type Engine struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	intake   *pulse.IntakeCounter
	feedback *pulse.FeedbackCounter
	motor    Motor

	mu     sync.Mutex
	ledger *ledger.Ledger
	syslog *ledger.SystemLog
	acc    *Accumulator
	payout *PayoutController

	listenersMu sync.RWMutex
	listeners   []Listener

	// 事件序号在 mu 内递增；dispatchMu 在释放 mu 之前获取，保证分发顺序与状态变更顺序一致
	seq        uint64
	dispatchMu sync.Mutex
}

// New 创建引擎，余额从 0 开始
func New(cfg Config, motor Motor, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if motor == nil {
		return nil, apperrors.New(apperrors.ErrInvalidParam, "motor is required")
	}

	e := &Engine{
		cfg:      cfg,
		logger:   zap.NewNop(),
		now:      time.Now,
		intake:   &pulse.IntakeCounter{},
		feedback: &pulse.FeedbackCounter{},
		motor:    motor,
		ledger:   ledger.New(),
		syslog:   ledger.NewSystemLog(cfg.LogCapacity),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.syslog.SetClock(e.now)
	e.acc = newAccumulator(e.intake, e.ledger, e.syslog, cfg.PulseUnitValue)
	e.payout = newPayoutController(motor, e.feedback, e.ledger, e.syslog, e.logger, cfg.CoinValue, cfg.StallTimeout, e.now)

	return e, nil
}

// IntakeEdge 投币脉冲回调入口，供硬件侧调用
func (e *Engine) IntakeEdge() pulse.Sink {
	return e.intake
}

// FeedbackEdge 出币反馈脉冲回调入口，供硬件侧调用
func (e *Engine) FeedbackEdge() pulse.Sink {
	return e.feedback
}

// Log 系统日志
func (e *Engine) Log() *ledger.SystemLog {
	return e.syslog
}

// Config 引擎参数
func (e *Engine) Config() Config {
	return e.cfg
}

// Subscribe 注册事件监听者
func (e *Engine) Subscribe(l Listener) {
	if l == nil {
		return
	}
	e.listenersMu.Lock()
	e.listeners = append(e.listeners, l)
	e.listenersMu.Unlock()
}

// Balance 当前余额
func (e *Engine) Balance() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Balance()
}

// Status 出币状态快照
func (e *Engine) Status() PayoutStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.payout.status()
}

// RequestPayout 请求出币。
// 同步返回：受理时电机已启动，拒绝时不修改余额。
// 电机启动失败且停止命令也失败时，控制器保持出币中并在监控周期重试停止。
func (e *Engine) RequestPayout(amount uint32) (*PayoutTicket, error) {
	e.mu.Lock()
	ticket, ev, err := e.payout.request(amount)
	e.publish(ev, true)
	return ticket, err
}

// TickIntake 执行一次入账周期
func (e *Engine) TickIntake() {
	e.mu.Lock()
	ev, ok := e.acc.tick()
	e.publish(ev, ok)
}

// TickPayout 执行一次出币监控周期
func (e *Engine) TickPayout() {
	e.mu.Lock()
	ev, ok := e.payout.tick()
	e.publish(ev, ok)
}

// Run 运行两个固定周期的任务，ctx 取消后停止电机并返回
func (e *Engine) Run(ctx context.Context) error {
	intakeTicker := time.NewTicker(e.cfg.IntakeInterval)
	defer intakeTicker.Stop()
	payoutTicker := time.NewTicker(e.cfg.PayoutInterval)
	defer payoutTicker.Stop()

	e.syslog.Append(ledger.KindSystem, "engine started", map[string]interface{}{
		"pulse_unit_value": e.cfg.PulseUnitValue,
		"coin_value":       e.cfg.CoinValue,
		"stall_timeout":    e.cfg.StallTimeout.String(),
	})
	e.logger.Info("引擎已启动",
		zap.Duration("intake_interval", e.cfg.IntakeInterval),
		zap.Duration("payout_interval", e.cfg.PayoutInterval),
		zap.Duration("stall_timeout", e.cfg.StallTimeout),
	)

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return ctx.Err()
		case <-intakeTicker.C:
			e.TickIntake()
		case <-payoutTicker.C:
			e.TickPayout()
		}
	}
}

// shutdown 把已到账的脉冲入账，终止进行中的出币，并确保电机停止
func (e *Engine) shutdown() {
	e.TickIntake()

	e.mu.Lock()
	ev, ok := e.payout.abort()
	e.publish(ev, ok)

	if err := e.motor.Off(); err != nil {
		e.logger.Error("停机时停止电机失败", zap.Error(err))
	}

	e.syslog.Append(ledger.KindSystem, "engine stopped", map[string]interface{}{
		"balance": e.Balance(),
	})
	e.logger.Info("引擎已停止", zap.Int64("balance", e.Balance()))
}

// publish 在持有 e.mu 时调用，返回前释放 e.mu。
// 事件在锁内编号，分发锁在释放 e.mu 之前获取。
func (e *Engine) publish(ev Event, ok bool) {
	if !ok || ev.Type == "" {
		e.mu.Unlock()
		return
	}

	e.seq++
	ev.Seq = e.seq
	if ev.Time.IsZero() {
		ev.Time = e.now()
	}

	e.dispatchMu.Lock()
	e.mu.Unlock()
	defer e.dispatchMu.Unlock()

	e.dispatch(ev)
}

func (e *Engine) dispatch(ev Event) {
	e.listenersMu.RLock()
	listeners := make([]Listener, len(e.listeners))
	copy(listeners, e.listeners)
	e.listenersMu.RUnlock()

	for _, l := range listeners {
		l.OnEvent(ev)
	}
}
