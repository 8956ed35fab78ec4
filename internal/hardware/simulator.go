package hardware

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/coin-hopper/internal/pulse"
)

// SimulatorConfig 模拟器配置
type SimulatorConfig struct {
	RelayPin      int
	ActiveLow     bool
	PulseInterval time.Duration // 电机运行时每枚币的反馈间隔

	// 随机投币（演示模式）
	DemoEnabled  bool
	DemoInterval time.Duration
	DemoMaxBills int
}

// Simulator 软件模拟的纸币器和出币机。
// 作为 PinDriver 接收继电器电平，电机运行时按固定间隔产生反馈脉冲。
type Simulator struct {
	mu       sync.Mutex
	config   SimulatorConfig
	logger   *zap.Logger
	intake   pulse.Sink
	feedback pulse.Sink

	pins      map[int]bool
	motorOn   bool
	jammed    bool
	inserted  uint64
	dispensed uint64

	rng *rand.Rand
}

// NewSimulator 创建模拟器
func NewSimulator(config SimulatorConfig, logger *zap.Logger) *Simulator {
	if config.PulseInterval <= 0 {
		config.PulseInterval = 50 * time.Millisecond
	}
	if config.DemoMaxBills <= 0 {
		config.DemoMaxBills = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{
		config: config,
		logger: logger,
		pins:   make(map[int]bool),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Attach 绑定脉冲计数器
func (s *Simulator) Attach(intake, feedback pulse.Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intake = intake
	s.feedback = feedback
}

// SetPin 实现 PinDriver
func (s *Simulator) SetPin(pin int, level bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pins[pin] = level
	if pin == s.config.RelayPin {
		on := level
		if s.config.ActiveLow {
			on = !level
		}
		if on != s.motorOn {
			s.logger.Debug("模拟出币电机", zap.Bool("on", on))
		}
		s.motorOn = on
	}
	return nil
}

// Pin 读取引脚电平
func (s *Simulator) Pin(pin int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pins[pin]
}

// MotorOn 电机是否运行
func (s *Simulator) MotorOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.motorOn
}

// Jam 模拟卡币，卡住时电机运行也不产生反馈
func (s *Simulator) Jam(jammed bool) {
	s.mu.Lock()
	s.jammed = jammed
	s.mu.Unlock()
	s.logger.Info("模拟卡币状态", zap.Bool("jammed", jammed))
}

// InsertPulses 模拟纸币器产生 n 个脉冲
func (s *Simulator) InsertPulses(n int) {
	s.mu.Lock()
	intake := s.intake
	if n > 0 {
		s.inserted += uint64(n)
	}
	s.mu.Unlock()

	if intake == nil {
		return
	}
	for i := 0; i < n; i++ {
		intake.OnEdge()
	}
}

// Stats 累计投币脉冲数和出币数
func (s *Simulator) Stats() (inserted, dispensed uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserted, s.dispensed
}

// Run 运行出币反馈和随机投币，直到 ctx 取消
func (s *Simulator) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.PulseInterval)
	defer ticker.Stop()

	var demo <-chan time.Time
	if s.config.DemoEnabled && s.config.DemoInterval > 0 {
		demoTicker := time.NewTicker(s.config.DemoInterval)
		defer demoTicker.Stop()
		demo = demoTicker.C
	}

	s.logger.Info("模拟硬件已启动",
		zap.Duration("pulse_interval", s.config.PulseInterval),
		zap.Bool("demo", s.config.DemoEnabled))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.emitFeedback()
		case <-demo:
			s.simulateBill()
		}
	}
}

// emitFeedback 电机运行且未卡币时产生一枚币的反馈
func (s *Simulator) emitFeedback() {
	s.mu.Lock()
	if !s.motorOn || s.jammed || s.feedback == nil {
		s.mu.Unlock()
		return
	}
	s.dispensed++
	feedback := s.feedback
	s.mu.Unlock()

	feedback.OnEdge()
}

// simulateBill 随机投入一张纸币
func (s *Simulator) simulateBill() {
	s.mu.Lock()
	count := s.rng.Intn(s.config.DemoMaxBills) + 1
	s.mu.Unlock()

	s.InsertPulses(count)
	s.logger.Info("模拟投币事件", zap.Int("pulses", count))
}
