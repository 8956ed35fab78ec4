package engine

import "time"

// EventType 引擎事件类型
type EventType string

const (
	EventCreditChanged   EventType = "credit_changed"
	EventPayoutStarted   EventType = "payout_started"
	EventPayoutCompleted EventType = "payout_completed"
	EventPayoutStalled   EventType = "payout_stalled"
	EventPayoutAborted   EventType = "payout_aborted"
	EventPayoutRejected  EventType = "payout_rejected"
)

// 拒绝原因，用于指标标签
const (
	ReasonInProgress   = "in_progress"
	ReasonInsufficient = "insufficient_credit"
	ReasonInvalid      = "invalid_amount"
	ReasonMotor        = "motor_command"
)

// Event 引擎通知。
// 按类型只填充相关字段：余额变化带 Balance/Delta，出币结束带 Result，拒绝带 Amount/Reason/Err。
// Seq 从 1 开始连续递增，监听者收到的顺序与 Seq 一致。
type Event struct {
	Seq     uint64        `json:"seq"`
	Type    EventType     `json:"type"`
	Time    time.Time     `json:"time"`
	Balance int64         `json:"balance"`
	Delta   int64         `json:"delta,omitempty"`
	Pulses  uint32        `json:"pulses,omitempty"`
	Ticket  *PayoutTicket `json:"ticket,omitempty"`
	Result  *PayoutResult `json:"result,omitempty"`
	Amount  uint32        `json:"amount,omitempty"`
	Reason  string        `json:"reason,omitempty"`
	Err     error         `json:"-"`
}

// Listener 事件监听者。
// 在状态变更之后同步调用，不能阻塞，也不能在回调里再调用 RequestPayout。
type Listener interface {
	OnEvent(ev Event)
}

// ListenerFunc 函数适配器
type ListenerFunc func(ev Event)

// OnEvent 实现 Listener
func (f ListenerFunc) OnEvent(ev Event) { f(ev) }
