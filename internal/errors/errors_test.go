package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

// ErrorsTestSuite 错误包测试套件
type ErrorsTestSuite struct {
	suite.Suite
}

// 测试创建新错误
func (suite *ErrorsTestSuite) TestNew() {
	err := New(ErrInvalidParam)
	suite.NotNil(err)
	suite.Equal(ErrInvalidParam, err.Code)
	suite.Equal("无效的参数", err.Message)
	suite.Empty(err.Details)

	// 带详情
	err = New(ErrInsufficientCredit, "余额 20 不足以支付 25")
	suite.Equal(ErrInsufficientCredit, err.Code)
	suite.Equal("余额不足", err.Message)
	suite.Equal("余额 20 不足以支付 25", err.Details)

	// 多个详情
	err = New(ErrSerialPortOpen, "打开失败", "端口: /dev/ttyS3")
	suite.Equal("打开失败; 端口: /dev/ttyS3", err.Details)
}

// 测试格式化错误创建
func (suite *ErrorsTestSuite) TestNewf() {
	err := Newf(ErrInvalidAmount, "金额 %d 不是 %d 的整数倍", 25, 10)
	suite.Equal(ErrInvalidAmount, err.Code)
	suite.Equal("金额 25 不是 10 的整数倍", err.Details)
}

// 测试错误包装
func (suite *ErrorsTestSuite) TestWrap() {
	originalErr := errors.New("write /dev/ttyS3: broken pipe")
	wrappedErr := Wrap(originalErr, ErrMotorCommand)
	suite.Equal(ErrMotorCommand, wrappedErr.Code)
	suite.Equal(originalErr.Error(), wrappedErr.Details)
	suite.Equal(originalErr, wrappedErr.Cause)

	suite.Nil(Wrap(nil, ErrUnknown))

	// 包装已有的AppError时保留原始错误码
	appErr := New(ErrSerialTimeout, "等待ACK超时")
	wrappedAppErr := Wrap(appErr, ErrMotorCommand, "启动电机")
	suite.Equal(ErrSerialTimeout, wrappedAppErr.Code)
	suite.Contains(wrappedAppErr.Details, "启动电机")
}

// 测试格式化错误包装
func (suite *ErrorsTestSuite) TestWrapf() {
	originalErr := errors.New("连接超时")
	wrappedErr := Wrapf(originalErr, ErrDatabaseConnect, "数据库 %s 连接失败", "sqlite")
	suite.Equal(ErrDatabaseConnect, wrappedErr.Code)
	suite.Equal("数据库 sqlite 连接失败", wrappedErr.Details)
	suite.Equal(originalErr, wrappedErr.Cause)
}

// 测试错误码判断
func (suite *ErrorsTestSuite) TestIs() {
	err := New(ErrPayoutInProgress)
	suite.True(Is(err, ErrPayoutInProgress))
	suite.False(Is(err, ErrInsufficientCredit))
	suite.False(Is(nil, ErrPayoutInProgress))
	suite.False(Is(errors.New("标准错误"), ErrUnknown))

	// 标准库 errors.Is 按错误码匹配，包括被 fmt.Errorf 包装后
	wrapped := fmt.Errorf("request payout: %w", err)
	suite.True(errors.Is(wrapped, New(ErrPayoutInProgress)))
	suite.False(errors.Is(wrapped, New(ErrHopperStalled)))
}

// 测试获取错误码
func (suite *ErrorsTestSuite) TestGetCode() {
	suite.Equal(ErrTokenExpired, GetCode(New(ErrTokenExpired)))
	suite.Equal(ErrUnknown, GetCode(errors.New("标准错误")))
	suite.Equal(ErrorCode(0), GetCode(nil))
}

// 测试错误消息
func (suite *ErrorsTestSuite) TestError() {
	err := &AppError{
		Code:    ErrInsufficientCredit,
		Message: "余额不足",
	}
	suite.Equal("[2001] 余额不足", err.Error())

	err.Details = "balance=20 amount=25"
	suite.Equal("[2001] 余额不足: balance=20 amount=25", err.Error())
}

// 测试Unwrap
func (suite *ErrorsTestSuite) TestUnwrap() {
	originalErr := errors.New("原始错误")
	wrappedErr := Wrap(originalErr, ErrUnknown)
	suite.Equal(originalErr, wrappedErr.Unwrap())
	suite.Nil(New(ErrUnknown).Unwrap())
}

// 测试WithCause
func (suite *ErrorsTestSuite) TestWithCause() {
	cause := errors.New("no feedback for 30s")
	err := New(ErrHopperStalled).WithCause(cause)
	suite.Equal(cause, err.Cause)
	suite.Equal("no feedback for 30s", err.Details)

	err2 := New(ErrHopperStalled, "已出 2/3 枚").WithCause(cause)
	suite.Equal("已出 2/3 枚", err2.Details)
}

// 测试HTTP状态码映射
func (suite *ErrorsTestSuite) TestHTTPStatus() {
	testCases := []struct {
		code     ErrorCode
		expected int
	}{
		{ErrInvalidAmount, 400},
		{ErrTokenInvalid, 401},
		{ErrInsufficientCredit, 402},
		{ErrNotFound, 404},
		{ErrPayoutInProgress, 409},
		{ErrRateLimitExceeded, 429},
		{ErrMotorCommand, 503},
		{ErrUnknown, 500},
	}

	for _, tc := range testCases {
		err := New(tc.code)
		suite.Equal(tc.expected, err.HTTPStatus(), "错误码 %d 应该返回HTTP状态码 %d", tc.code, tc.expected)
	}
}

// 测试可重试判断
func (suite *ErrorsTestSuite) TestIsRetryable() {
	for _, code := range []ErrorCode{ErrTimeout, ErrPayoutInProgress, ErrSerialTimeout, ErrDeviceOffline} {
		suite.True(IsRetryable(New(code)), "错误码 %d 应该是可重试的", code)
	}
	for _, code := range []ErrorCode{ErrInsufficientCredit, ErrInvalidAmount, ErrHopperStalled} {
		suite.False(IsRetryable(New(code)), "错误码 %d 不应该是可重试的", code)
	}
	suite.False(IsRetryable(nil))
}

// 测试严重错误判断
func (suite *ErrorsTestSuite) TestIsCritical() {
	for _, code := range []ErrorCode{ErrHopperStalled, ErrMotorCommand, ErrSerialPortOpen, ErrConfigLoad} {
		suite.True(IsCritical(New(code)), "错误码 %d 应该是严重错误", code)
	}
	for _, code := range []ErrorCode{ErrPayoutInProgress, ErrInsufficientCredit, ErrTimeout} {
		suite.False(IsCritical(New(code)), "错误码 %d 不应该是严重错误", code)
	}
	suite.False(IsCritical(nil))
}

// 测试调用栈捕获
func (suite *ErrorsTestSuite) TestStackCapture() {
	err := New(ErrUnknown)
	suite.NotEmpty(err.Stack)
	suite.NotEmpty(err.GetStack())
}

// 测试未知错误码
func (suite *ErrorsTestSuite) TestUnknownErrorCode() {
	err := New(ErrorCode(99999))
	suite.Equal(ErrorCode(99999), err.Code)
	suite.Equal("未知错误", err.Message)
}

// 测试出币相关错误
func (suite *ErrorsTestSuite) TestPayoutErrors() {
	payoutErrors := map[ErrorCode]string{
		ErrPayoutInProgress:   "出币正在进行中",
		ErrInsufficientCredit: "余额不足",
		ErrInvalidAmount:      "无效的出币金额",
		ErrHopperStalled:      "出币机卡币或无反馈",
		ErrMotorCommand:       "出币电机控制失败",
	}

	for code, expectedMsg := range payoutErrors {
		suite.Equal(expectedMsg, New(code).Message)
	}
}

// 测试错误码名称
func (suite *ErrorsTestSuite) TestCodeString() {
	suite.Equal("PAYOUT_IN_PROGRESS", ErrPayoutInProgress.String())
	suite.Equal("INSUFFICIENT_CREDIT", ErrInsufficientCredit.String())
	suite.Equal("INVALID_AMOUNT", ErrInvalidAmount.String())
	suite.Equal("UNKNOWN", ErrorCode(99999).String())
	// %d 仍然输出数字
	suite.Equal("[2001] 余额不足", New(ErrInsufficientCredit).Error())
}

func TestErrorsSuite(t *testing.T) {
	suite.Run(t, new(ErrorsTestSuite))
}
