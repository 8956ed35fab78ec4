// Package display 余额数码管显示
package display

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Segment 4位数码管
type Segment interface {
	Show(value int) error
	Scroll(text string) error
	Clear() error
}

// BalanceSource 余额来源
type BalanceSource interface {
	Balance() int64
}

// Config 显示参数
type Config struct {
	RefreshInterval time.Duration
	MaxValue        int
	Banner          string
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		RefreshInterval: 500 * time.Millisecond,
		MaxValue:        9999,
		Banner:          "INIT",
	}
}

// Manager 周期读取余额，只在数值变化时刷新数码管
type Manager struct {
	config  Config
	segment Segment
	source  BalanceSource
	logger  *zap.Logger

	mu       sync.Mutex
	last     int
	rendered bool
}

// NewManager 创建显示管理器
func NewManager(config Config, segment Segment, source BalanceSource, logger *zap.Logger) *Manager {
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = DefaultConfig().RefreshInterval
	}
	if config.MaxValue <= 0 {
		config.MaxValue = DefaultConfig().MaxValue
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		config:  config,
		segment: segment,
		source:  source,
		logger:  logger,
	}
}

// Clamp 把余额限制在数码管可显示的范围内
func (m *Manager) Clamp(balance int64) int {
	if balance < 0 {
		return 0
	}
	if balance > int64(m.config.MaxValue) {
		return m.config.MaxValue
	}
	return int(balance)
}

// Refresh 读取余额并在变化时刷新，返回是否刷新
func (m *Manager) Refresh() bool {
	value := m.Clamp(m.source.Balance())

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rendered && value == m.last {
		return false
	}
	if err := m.segment.Show(value); err != nil {
		// 下个周期重试
		m.logger.Warn("刷新数码管失败", zap.Int("value", value), zap.Error(err))
		return false
	}
	m.last = value
	m.rendered = true
	return true
}

// Last 最近一次显示的数值
func (m *Manager) Last() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.rendered
}

// Run 显示启动文字后周期刷新，ctx 取消时熄灭数码管
func (m *Manager) Run(ctx context.Context) {
	if m.config.Banner != "" {
		if err := m.segment.Scroll(m.config.Banner); err != nil {
			m.logger.Warn("显示启动文字失败", zap.Error(err))
		}
	}
	m.Refresh()

	ticker := time.NewTicker(m.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Blank()
			return
		case <-ticker.C:
			m.Refresh()
		}
	}
}

// Blank 熄灭数码管
func (m *Manager) Blank() {
	if err := m.segment.Clear(); err != nil {
		m.logger.Warn("熄灭数码管失败", zap.Error(err))
	}
	m.mu.Lock()
	m.rendered = false
	m.mu.Unlock()
}
