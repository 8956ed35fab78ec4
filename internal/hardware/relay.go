package hardware

import (
	"sync"

	apperrors "github.com/wfunc/coin-hopper/internal/errors"
)

// PinDriver 数字输出引脚
type PinDriver interface {
	SetPin(pin int, level bool) error
}

// RelayMotor 通过继电器控制出币电机。
// 低电平有效时 ON 输出低电平、OFF 输出高电平。
type RelayMotor struct {
	mu        sync.Mutex
	driver    PinDriver
	pin       int
	activeLow bool
	running   bool
}

// NewRelayMotor 创建继电器电机，初始状态为 OFF
func NewRelayMotor(driver PinDriver, pin int, activeLow bool) (*RelayMotor, error) {
	if driver == nil {
		return nil, apperrors.New(apperrors.ErrInvalidParam, "pin driver is required")
	}
	m := &RelayMotor{
		driver:    driver,
		pin:       pin,
		activeLow: activeLow,
	}
	if err := driver.SetPin(pin, m.level(false)); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrMotorCommand, "initialize relay")
	}
	return m, nil
}

// level 继电器状态对应的引脚电平
func (m *RelayMotor) level(on bool) bool {
	if m.activeLow {
		return !on
	}
	return on
}

// On 吸合继电器
func (m *RelayMotor) On() error {
	return m.set(true)
}

// Off 释放继电器
func (m *RelayMotor) Off() error {
	return m.set(false)
}

func (m *RelayMotor) set(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.driver.SetPin(m.pin, m.level(on)); err != nil {
		return apperrors.Wrap(err, apperrors.ErrMotorCommand)
	}
	m.running = on
	return nil
}

// Running 电机是否在运行
func (m *RelayMotor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
