package hardware

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tarm/serial"
	"go.uber.org/zap"

	apperrors "github.com/wfunc/coin-hopper/internal/errors"
	"github.com/wfunc/coin-hopper/internal/pulse"
)

// 帧方向
const (
	DirectionTx = "tx"
	DirectionRx = "rx"
)

// FrameLogger 串口帧记录（持久化串口日志）
type FrameLogger interface {
	LogFrame(direction string, frame *Frame)
}

// FrameLoggerFunc 函数适配器
type FrameLoggerFunc func(direction string, frame *Frame)

// LogFrame 实现 FrameLogger
func (f FrameLoggerFunc) LogFrame(direction string, frame *Frame) { f(direction, frame) }

// BridgeConfig 串口桥配置
type BridgeConfig struct {
	Port              string
	BaudRate          int
	ReadTimeout       time.Duration
	AckTimeout        time.Duration
	RetryTimes        int
	HeartbeatInterval time.Duration
}

// DefaultBridgeConfig 默认配置
func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		Port:              "/dev/ttyUSB0",
		BaudRate:          115200,
		ReadTimeout:       100 * time.Millisecond,
		AckTimeout:        500 * time.Millisecond,
		RetryTimes:        3,
		HeartbeatInterval: 5 * time.Second,
	}
}

// pendingCommand 待确认的命令
type pendingCommand struct {
	cmd      byte
	response chan error
}

// SerialBridge 通过串口连接 I/O 协处理器。
// 协处理器上报纸币器和出币反馈脉冲，执行继电器和数码管命令。
type SerialBridge struct {
	config   BridgeConfig
	opener   PortOpener
	logger   *zap.Logger
	sequence uint32

	mu        sync.Mutex // 保护 port 和写操作
	port      SerialPort
	connected bool
	stopCh    chan struct{}
	wg        sync.WaitGroup

	pendingMu sync.Mutex
	pending   map[uint16]*pendingCommand

	intake   pulse.Sink
	feedback pulse.Sink
	frames   FrameLogger

	eventMu   sync.Mutex
	lastEvent map[byte]uint16 // 每类事件最近一次的序列号，用于丢弃重发

	motorOn  atomic.Bool
	lastSeen atomic.Int64
}

// NewSerialBridge 创建串口桥，opener 为空时打开真实串口
func NewSerialBridge(config BridgeConfig, opener PortOpener, logger *zap.Logger) *SerialBridge {
	if opener == nil {
		opener = OpenSerialPort
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.AckTimeout <= 0 {
		config.AckTimeout = DefaultBridgeConfig().AckTimeout
	}
	if config.RetryTimes <= 0 {
		config.RetryTimes = 1
	}
	return &SerialBridge{
		config:    config,
		opener:    opener,
		logger:    logger,
		pending:   make(map[uint16]*pendingCommand),
		lastEvent: make(map[byte]uint16),
	}
}

// Attach 绑定脉冲计数器，必须在 Connect 之前调用
func (b *SerialBridge) Attach(intake, feedback pulse.Sink) {
	b.intake = intake
	b.feedback = feedback
}

// SetFrameLogger 设置串口帧记录
func (b *SerialBridge) SetFrameLogger(l FrameLogger) {
	b.frames = l
}

// Connect 打开串口并启动读循环和心跳
func (b *SerialBridge) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.connected {
		return nil
	}

	cfg := &serial.Config{
		Name:        b.config.Port,
		Baud:        b.config.BaudRate,
		ReadTimeout: b.config.ReadTimeout,
	}

	port, err := b.opener(cfg)
	if err != nil {
		b.logger.Error("打开串口失败", zap.String("port", b.config.Port), zap.Error(err))
		return apperrors.Wrap(err, apperrors.ErrSerialPortOpen, b.config.Port)
	}

	b.port = port
	b.connected = true
	b.stopCh = make(chan struct{})
	b.lastSeen.Store(time.Now().UnixNano())

	b.wg.Add(1)
	go b.readLoop(port, b.stopCh)
	if b.config.HeartbeatInterval > 0 {
		b.wg.Add(1)
		go b.heartbeatLoop(b.stopCh)
	}

	b.logger.Info("串口桥已连接",
		zap.String("port", b.config.Port),
		zap.Int("baudrate", b.config.BaudRate))

	return nil
}

// Disconnect 关闭串口并等待后台任务退出
func (b *SerialBridge) Disconnect() error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return nil
	}
	close(b.stopCh)
	b.connected = false
	port := b.port
	b.port = nil
	b.mu.Unlock()

	err := port.Close()
	b.wg.Wait()

	if err != nil {
		b.logger.Error("关闭串口失败", zap.Error(err))
		return err
	}
	b.logger.Info("串口桥已断开")
	return nil
}

// IsConnected 检查连接状态
func (b *SerialBridge) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Online 最近三个心跳周期内是否收到过协处理器的数据
func (b *SerialBridge) Online() bool {
	if !b.IsConnected() {
		return false
	}
	interval := b.config.HeartbeatInterval
	if interval <= 0 {
		return true
	}
	last := time.Unix(0, b.lastSeen.Load())
	return time.Since(last) < 3*interval
}

// On 启动出币电机
func (b *SerialBridge) On() error {
	if err := b.sendCommand(CmdHopperMotor, MotorPayload(true)); err != nil {
		return err
	}
	b.motorOn.Store(true)
	return nil
}

// Off 停止出币电机
func (b *SerialBridge) Off() error {
	if err := b.sendCommand(CmdHopperMotor, MotorPayload(false)); err != nil {
		return err
	}
	b.motorOn.Store(false)
	return nil
}

// Running 电机是否在运行
func (b *SerialBridge) Running() bool {
	return b.motorOn.Load()
}

// Show 数码管显示数值
func (b *SerialBridge) Show(value int) error {
	if value < 0 {
		value = 0
	}
	if value > 0xFFFE {
		value = 0xFFFE
	}
	return b.sendCommand(CmdDisplay, DisplayPayload(uint16(value)))
}

// Scroll 数码管滚动文字
func (b *SerialBridge) Scroll(text string) error {
	data := []byte(text)
	if limit := int(MaxFrameLen - MinFrameLen); len(data) > limit {
		data = data[:limit]
	}
	return b.sendCommand(CmdDisplayText, data)
}

// Clear 熄灭数码管
func (b *SerialBridge) Clear() error {
	return b.sendCommand(CmdDisplay, DisplayPayload(DisplayBlank))
}

// SendHeartbeat 发送心跳，不等待确认
func (b *SerialBridge) SendHeartbeat() error {
	frame := NewFrame(CmdHeartbeat, b.nextSeq(), FormatTimestamp(time.Now()))
	return b.writeFrame(frame)
}

// nextSeq 获取下一个序列号（主机使用奇数）
func (b *SerialBridge) nextSeq() uint16 {
	seq := atomic.AddUint32(&b.sequence, 2)
	if seq%2 == 0 {
		seq++
	}
	return uint16(seq)
}

// sendCommand 发送命令并等待ACK，超时重试
func (b *SerialBridge) sendCommand(cmd byte, data []byte) error {
	var lastErr error
	for attempt := 0; attempt < b.config.RetryTimes; attempt++ {
		lastErr = b.sendOnce(cmd, data)
		if lastErr == nil {
			return nil
		}
		if !apperrors.Is(lastErr, apperrors.ErrSerialTimeout) {
			return lastErr
		}
		b.logger.Warn("等待ACK超时，重试",
			zap.String("cmd", fmt.Sprintf("0x%02X", cmd)),
			zap.Int("attempt", attempt+1))
	}
	return lastErr
}

func (b *SerialBridge) sendOnce(cmd byte, data []byte) error {
	if !b.IsConnected() {
		return apperrors.New(apperrors.ErrDeviceOffline, "serial bridge not connected")
	}

	seq := b.nextSeq()
	frame := NewFrame(cmd, seq, data)

	respCh := make(chan error, 1)
	b.pendingMu.Lock()
	b.pending[seq] = &pendingCommand{cmd: cmd, response: respCh}
	b.pendingMu.Unlock()

	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, seq)
		b.pendingMu.Unlock()
	}()

	if err := b.writeFrame(frame); err != nil {
		return err
	}

	timer := time.NewTimer(b.config.AckTimeout)
	defer timer.Stop()

	select {
	case err := <-respCh:
		return err
	case <-timer.C:
		return apperrors.Newf(apperrors.ErrSerialTimeout, "wait ACK timeout for cmd 0x%02X seq %d", cmd, seq)
	}
}

// writeFrame 写入数据帧
func (b *SerialBridge) writeFrame(frame *Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.port == nil {
		return apperrors.New(apperrors.ErrDeviceOffline, "port not open")
	}

	data := frame.ToBytes()
	n, err := b.port.Write(data)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrSerialPortWrite)
	}
	if n != len(data) {
		return apperrors.Newf(apperrors.ErrSerialPortWrite, "incomplete write: %d/%d", n, len(data))
	}

	b.logFrame(DirectionTx, frame)
	return nil
}

// readLoop 读取循环
func (b *SerialBridge) readLoop(port SerialPort, stopCh chan struct{}) {
	defer b.wg.Done()

	buf := make([]byte, 512)
	decoder := &FrameDecoder{}

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		n, err := port.Read(buf)
		if err != nil {
			select {
			case <-stopCh:
				return
			default:
			}
			b.logger.Error("串口读取失败", zap.Error(apperrors.Wrap(err, apperrors.ErrSerialPortRead)))
			time.Sleep(b.readBackoff())
			continue
		}
		if n == 0 {
			continue
		}

		frames, errs := decoder.Feed(buf[:n])
		for _, err := range errs {
			b.logger.Warn("丢弃损坏的帧", zap.Error(apperrors.Wrap(err, apperrors.ErrInvalidResponse)))
		}
		for _, frame := range frames {
			b.handleFrame(frame)
		}
	}
}

func (b *SerialBridge) readBackoff() time.Duration {
	if b.config.ReadTimeout > 0 {
		return b.config.ReadTimeout
	}
	return 100 * time.Millisecond
}

// handleFrame 处理接收到的帧
func (b *SerialBridge) handleFrame(frame *Frame) {
	b.lastSeen.Store(time.Now().UnixNano())
	b.logFrame(DirectionRx, frame)

	switch frame.Command {
	case CmdACK:
		b.handleACK(frame)
	case CmdNACK:
		b.handleNACK(frame)
	case EventBillPulse:
		b.handlePulse(frame, b.intake)
	case EventHopperPulse:
		b.handlePulse(frame, b.feedback)
	case CmdHeartbeat:
		b.logger.Debug("收到心跳", zap.Time("device_time", ParseTimestamp(frame.Data)))
	default:
		b.logger.Warn("未知命令", zap.String("cmd", fmt.Sprintf("0x%02X", frame.Command)))
	}
}

// handlePulse 处理脉冲上报，先回ACK，重发的帧只确认不计数
func (b *SerialBridge) handlePulse(frame *Frame, sink pulse.Sink) {
	if len(frame.Data) < 1 {
		b.logger.Error("脉冲上报数据长度错误", zap.Int("len", len(frame.Data)))
		return
	}

	b.sendACK(frame.Sequence, frame.Command)

	b.eventMu.Lock()
	last, seen := b.lastEvent[frame.Command]
	duplicate := seen && last == frame.Sequence
	b.lastEvent[frame.Command] = frame.Sequence
	b.eventMu.Unlock()

	if duplicate {
		b.logger.Debug("重复的脉冲上报", zap.Uint16("seq", frame.Sequence))
		return
	}

	count := frame.Data[0]
	if sink != nil && count > 0 {
		sink.OnEdges(uint32(count))
	}
}

// handleACK 处理ACK响应
func (b *SerialBridge) handleACK(frame *Frame) {
	if len(frame.Data) < 2 {
		b.logger.Error("ACK数据长度错误")
		return
	}

	origSeq := binary.BigEndian.Uint16(frame.Data[0:2])

	b.pendingMu.Lock()
	pending, ok := b.pending[origSeq]
	b.pendingMu.Unlock()

	if ok {
		select {
		case pending.response <- nil:
		default:
		}
	}
}

// handleNACK 处理NACK响应
func (b *SerialBridge) handleNACK(frame *Frame) {
	if len(frame.Data) < 4 {
		b.logger.Error("NACK数据长度错误")
		return
	}

	origSeq := binary.BigEndian.Uint16(frame.Data[0:2])
	origCmd := frame.Data[2]
	errorCode := frame.Data[3]

	b.pendingMu.Lock()
	pending, ok := b.pending[origSeq]
	b.pendingMu.Unlock()

	if ok {
		err := apperrors.Newf(apperrors.ErrCommandFailed, "NACK: cmd=0x%02X, error=0x%02X", origCmd, errorCode)
		select {
		case pending.response <- err:
		default:
		}
	}
}

// sendACK 确认协处理器上报（使用偶数序列号）
func (b *SerialBridge) sendACK(origSeq uint16, origCmd byte) {
	seq := origSeq + 1
	if seq%2 == 1 {
		seq++
	}
	frame := NewFrame(CmdACK, seq, ACKPayload(origSeq, origCmd, StatusSuccess))
	if err := b.writeFrame(frame); err != nil {
		b.logger.Error("发送ACK失败", zap.Error(err))
	}
}

// heartbeatLoop 心跳循环
func (b *SerialBridge) heartbeatLoop(stopCh chan struct{}) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if err := b.SendHeartbeat(); err != nil {
				b.logger.Error("发送心跳失败", zap.Error(err))
			}
		}
	}
}

func (b *SerialBridge) logFrame(direction string, frame *Frame) {
	if b.frames != nil {
		b.frames.LogFrame(direction, frame)
	}
}
