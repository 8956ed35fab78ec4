package hardware

import (
	"io"

	"github.com/tarm/serial"
)

// SerialPort 串口接口（用于测试）
type SerialPort interface {
	io.ReadWriteCloser
	Flush() error
}

// PortOpener 打开串口的函数，测试时替换为内存管道
type PortOpener func(cfg *serial.Config) (SerialPort, error)

// OpenSerialPort 通过 tarm/serial 打开真实串口
func OpenSerialPort(cfg *serial.Config) (SerialPort, error) {
	return serial.OpenPort(cfg)
}
