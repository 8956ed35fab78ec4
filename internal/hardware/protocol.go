package hardware

import (
	"encoding/binary"
	"fmt"
	"time"
)

// 帧定义
const (
	FrameHeader byte   = 0xAA
	FrameTail   byte   = 0x55
	MinFrameLen uint16 = 9   // 帧头(1) + 长度(2) + 命令(1) + 序列号(2) + CRC(2) + 帧尾(1)
	MaxFrameLen uint16 = 256 // 协处理器单帧上限
)

// 命令码定义
const (
	// 控制指令（主机→协处理器）
	CmdHopperMotor byte = 0x01 // 出币电机继电器 {on u8}
	CmdDisplay     byte = 0x05 // 数码管数值 {value u16}，0xFFFF 熄灭
	CmdDisplayText byte = 0x06 // 数码管滚动文字 {ascii...}

	// 事件上报（协处理器→主机）
	EventBillPulse   byte = 0x11 // 纸币器脉冲 {count u8}
	EventHopperPulse byte = 0x12 // 出币反馈脉冲 {count u8}

	// 系统指令
	CmdHeartbeat byte = 0x31 // 心跳包 {unix u32}
	CmdACK       byte = 0x80 // ACK确认 {seq u16, cmd u8, status u8}
	CmdNACK      byte = 0x81 // NACK拒绝 {seq u16, cmd u8, error u8}
)

// DisplayBlank 熄灭数码管的数值
const DisplayBlank uint16 = 0xFFFF

// ACK 状态码
const (
	StatusSuccess byte = 0x00
)

// NACK 错误码
const (
	ErrorUnsupported  byte = 0x01 // 命令不支持
	ErrorInvalidParam byte = 0x02 // 参数错误
	ErrorBusy         byte = 0x03 // 设备忙
	ErrorHardware     byte = 0x04 // 硬件故障
	ErrorChecksum     byte = 0x05 // 校验失败
)

// Frame 数据帧结构
type Frame struct {
	Header   byte   // 帧头
	Length   uint16 // 整帧长度
	Command  byte   // 命令码
	Sequence uint16 // 序列号
	Data     []byte // 数据
	CRC16    uint16 // CRC校验
	Tail     byte   // 帧尾
}

// NewFrame 创建新的数据帧
func NewFrame(cmd byte, seq uint16, data []byte) *Frame {
	f := &Frame{
		Header:   FrameHeader,
		Command:  cmd,
		Sequence: seq,
		Data:     data,
		Tail:     FrameTail,
	}

	f.Length = MinFrameLen + uint16(len(data))
	f.CRC16 = f.CalculateCRC()

	return f
}

// ToBytes 将帧转换为字节数组
func (f *Frame) ToBytes() []byte {
	buf := make([]byte, f.Length)

	buf[0] = f.Header
	binary.BigEndian.PutUint16(buf[1:3], f.Length)
	buf[3] = f.Command
	binary.BigEndian.PutUint16(buf[4:6], f.Sequence)

	idx := 6
	if len(f.Data) > 0 {
		copy(buf[idx:], f.Data)
		idx += len(f.Data)
	}

	binary.BigEndian.PutUint16(buf[idx:], f.CRC16)
	buf[idx+2] = f.Tail

	return buf
}

// FromBytes 从字节数组解析帧
func (f *Frame) FromBytes(data []byte) error {
	if len(data) < int(MinFrameLen) {
		return fmt.Errorf("frame too short: %d < %d", len(data), MinFrameLen)
	}

	if data[0] != FrameHeader {
		return fmt.Errorf("invalid frame header: 0x%02X", data[0])
	}

	f.Header = data[0]
	f.Length = binary.BigEndian.Uint16(data[1:3])

	if f.Length < MinFrameLen || f.Length > MaxFrameLen {
		return fmt.Errorf("invalid frame length: %d", f.Length)
	}
	if len(data) < int(f.Length) {
		return fmt.Errorf("incomplete frame: %d < %d", len(data), f.Length)
	}

	if data[f.Length-1] != FrameTail {
		return fmt.Errorf("invalid frame tail: 0x%02X", data[f.Length-1])
	}

	f.Command = data[3]
	f.Sequence = binary.BigEndian.Uint16(data[4:6])

	f.Data = nil
	if dataLen := f.Length - MinFrameLen; dataLen > 0 {
		f.Data = make([]byte, dataLen)
		copy(f.Data, data[6:6+dataLen])
	}

	crcIdx := f.Length - 3
	f.CRC16 = binary.BigEndian.Uint16(data[crcIdx : crcIdx+2])
	f.Tail = data[f.Length-1]

	if calc := f.CalculateCRC(); calc != f.CRC16 {
		return fmt.Errorf("CRC mismatch: calc=0x%04X, recv=0x%04X", calc, f.CRC16)
	}

	return nil
}

// CalculateCRC 计算命令码、序列号和数据的CRC16
func (f *Frame) CalculateCRC() uint16 {
	data := make([]byte, 0, 3+len(f.Data))
	data = append(data, f.Command)
	data = append(data, byte(f.Sequence>>8), byte(f.Sequence&0xFF))
	data = append(data, f.Data...)
	return CRC16XMODEM(data)
}

// CRC16XMODEM CRC16-XMODEM算法
func CRC16XMODEM(data []byte) uint16 {
	crc := uint16(0x0000)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// FrameDecoder 从字节流中重组帧。
// 丢弃帧头之前的噪声，校验失败时跳过一个字节重新同步。
type FrameDecoder struct {
	buf     []byte
	dropped int
}

// Feed 追加数据并返回所有完整的帧，以及被丢弃的坏帧错误
func (d *FrameDecoder) Feed(p []byte) ([]*Frame, []error) {
	d.buf = append(d.buf, p...)

	var (
		frames []*Frame
		errs   []error
	)

	for len(d.buf) >= int(MinFrameLen) {
		// 查找帧头
		idx := -1
		for i, b := range d.buf {
			if b == FrameHeader {
				idx = i
				break
			}
		}
		if idx < 0 {
			d.dropped += len(d.buf)
			d.buf = d.buf[:0]
			break
		}
		if idx > 0 {
			d.dropped += idx
			d.buf = d.buf[idx:]
			if len(d.buf) < int(MinFrameLen) {
				break
			}
		}

		frameLen := binary.BigEndian.Uint16(d.buf[1:3])
		if frameLen < MinFrameLen || frameLen > MaxFrameLen {
			errs = append(errs, fmt.Errorf("invalid frame length: %d", frameLen))
			d.dropped++
			d.buf = d.buf[1:]
			continue
		}
		if len(d.buf) < int(frameLen) {
			// 等待更多数据
			break
		}

		frame := &Frame{}
		if err := frame.FromBytes(d.buf[:frameLen]); err != nil {
			errs = append(errs, err)
			d.dropped++
			d.buf = d.buf[1:]
			continue
		}

		frames = append(frames, frame)
		d.buf = d.buf[frameLen:]
	}

	// 压缩缓冲区，避免底层数组无限增长
	if cap(d.buf) > 4096 && len(d.buf) < 1024 {
		d.buf = append([]byte(nil), d.buf...)
	}

	return frames, errs
}

// Dropped 累计丢弃的字节数
func (d *FrameDecoder) Dropped() int {
	return d.dropped
}

// Buffered 尚未组成完整帧的字节数
func (d *FrameDecoder) Buffered() int {
	return len(d.buf)
}

// MotorPayload 电机命令数据
func MotorPayload(on bool) []byte {
	if on {
		return []byte{0x01}
	}
	return []byte{0x00}
}

// DisplayPayload 数码管数值命令数据
func DisplayPayload(value uint16) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, value)
	return buf
}

// ACKPayload 确认数据
func ACKPayload(origSeq uint16, origCmd byte, status byte) []byte {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], origSeq)
	data[2] = origCmd
	data[3] = status
	return data
}

// FormatTimestamp 格式化时间戳为4字节
func FormatTimestamp(t time.Time) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(t.Unix()))
	return buf
}

// ParseTimestamp 解析4字节时间戳
func ParseTimestamp(data []byte) time.Time {
	if len(data) < 4 {
		return time.Time{}
	}
	return time.Unix(int64(binary.BigEndian.Uint32(data)), 0)
}
