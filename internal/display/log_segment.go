package display

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// LogSegment 把显示内容输出到日志，用于没有数码管的部署
type LogSegment struct {
	logger *zap.Logger

	mu      sync.Mutex
	current string
}

// NewLogSegment 创建日志数码管
func NewLogSegment(logger *zap.Logger) *LogSegment {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSegment{logger: logger}
}

// Show 显示数值
func (s *LogSegment) Show(value int) error {
	s.set(fmt.Sprintf("%4d", value))
	s.logger.Info("display", zap.Int("value", value))
	return nil
}

// Scroll 滚动文字
func (s *LogSegment) Scroll(text string) error {
	s.set(text)
	s.logger.Info("display", zap.String("text", text))
	return nil
}

// Clear 熄灭
func (s *LogSegment) Clear() error {
	s.set("")
	s.logger.Info("display cleared")
	return nil
}

// Current 当前显示内容
func (s *LogSegment) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *LogSegment) set(v string) {
	s.mu.Lock()
	s.current = v
	s.mu.Unlock()
}
