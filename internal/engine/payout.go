package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/wfunc/coin-hopper/internal/errors"
	"github.com/wfunc/coin-hopper/internal/ledger"
	"github.com/wfunc/coin-hopper/internal/pulse"
)

// Motor 出币电机
type Motor interface {
	On() error
	Off() error
}

// State 出币控制器状态
type State string

const (
	StateIdle       State = "idle"
	StateInProgress State = "in_progress"
)

// Outcome 出币结束方式
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeStalled   Outcome = "stalled"
	OutcomeAborted   Outcome = "aborted"
)

// PayoutTicket 已受理的出币请求
type PayoutTicket struct {
	ID        string    `json:"id"`
	Amount    uint32    `json:"amount"`
	Target    uint32    `json:"target"`
	StartedAt time.Time `json:"started_at"`
}

// PayoutResult 一次出币的结算结果
type PayoutResult struct {
	ID         string        `json:"id"`
	Amount     uint32        `json:"amount"`
	Target     uint32        `json:"target"`
	Dispensed  uint32        `json:"dispensed"`
	Excess     uint32        `json:"excess"`
	Debited    int64         `json:"debited"`
	Balance    int64         `json:"balance"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
	Outcome    Outcome       `json:"outcome"`
	Error      string        `json:"error,omitempty"`
}

// PayoutStatus 出币控制器快照
type PayoutStatus struct {
	State      State         `json:"state"`
	Current    *PayoutTicket `json:"current,omitempty"`
	Dispensed  uint32        `json:"dispensed"`
	Stopping   bool          `json:"stopping"`
	LastResult *PayoutResult `json:"last_result,omitempty"`
	LastError  string        `json:"last_error,omitempty"`
}

// activePayout 进行中的出币
type activePayout struct {
	ticket       PayoutTicket
	lastTotal    uint32
	lastProgress time.Time

	// 电机停止命令失败后置位，下个周期重试，成功前不结算
	stopping bool
	outcome  Outcome
}

// PayoutController 出币状态机。
// 所有方法都在引擎锁内调用。
type PayoutController struct {
	motor        Motor
	feedback     *pulse.FeedbackCounter
	ledger       *ledger.Ledger
	syslog       *ledger.SystemLog
	logger       *zap.Logger
	coinValue    int64
	stallTimeout time.Duration
	now          func() time.Time

	state      State
	active     *activePayout
	lastResult *PayoutResult
	lastErr    error
}

func newPayoutController(motor Motor, feedback *pulse.FeedbackCounter, l *ledger.Ledger, syslog *ledger.SystemLog,
	logger *zap.Logger, coinValue int64, stallTimeout time.Duration, now func() time.Time) *PayoutController {
	return &PayoutController{
		motor:        motor,
		feedback:     feedback,
		ledger:       l,
		syslog:       syslog,
		logger:       logger,
		coinValue:    coinValue,
		stallTimeout: stallTimeout,
		now:          now,
		state:        StateIdle,
	}
}

// request 受理出币请求，拒绝时返回带原因的事件
func (p *PayoutController) request(amount uint32) (*PayoutTicket, Event, error) {
	balance := p.ledger.Balance()

	if p.state == StateInProgress {
		err := apperrors.Newf(apperrors.ErrPayoutInProgress, "payout %s in progress", p.active.ticket.ID)
		return nil, p.reject(amount, ReasonInProgress, err), err
	}
	if int64(amount) > balance {
		err := apperrors.Newf(apperrors.ErrInsufficientCredit, "balance %d, requested %d", balance, amount)
		return nil, p.reject(amount, ReasonInsufficient, err), err
	}
	if amount == 0 || int64(amount)%p.coinValue != 0 {
		err := apperrors.Newf(apperrors.ErrInvalidAmount, "amount %d is not a positive multiple of %d", amount, p.coinValue)
		return nil, p.reject(amount, ReasonInvalid, err), err
	}

	if stray := p.feedback.Reset(); stray > 0 {
		p.syslog.Append(ledger.KindStrayFeedback, fmt.Sprintf("%d stray feedback pulses discarded", stray), map[string]interface{}{
			"pulses": stray,
		})
		p.logger.Warn("出币开始前存在残留反馈脉冲", zap.Uint32("pulses", stray))
	}

	now := p.now()
	ticket := PayoutTicket{
		ID:        uuid.New().String(),
		Amount:    amount,
		Target:    uint32(int64(amount) / p.coinValue),
		StartedAt: now,
	}

	if err := p.motor.On(); err != nil {
		appErr := apperrors.Wrap(err, apperrors.ErrMotorCommand, "motor on")
		p.lastErr = appErr
		p.logger.Error("启动出币电机失败", zap.String("payout_id", ticket.ID), zap.Error(err))

		// 启动命令可能已执行但未确认，补发停止命令；停止也失败时进入停止重试，
		// 电机确认停止前不回到空闲
		if offErr := p.motor.Off(); offErr != nil {
			p.state = StateInProgress
			p.active = &activePayout{
				ticket:       ticket,
				lastProgress: now,
				stopping:     true,
				outcome:      OutcomeAborted,
			}
			p.syslog.Append(ledger.KindSystem, "motor state unknown after failed start, retrying stop", map[string]interface{}{
				"payout_id": ticket.ID,
				"amount":    amount,
			})
			p.logger.Error("启动失败后停止电机也失败，下个周期重试",
				zap.String("payout_id", ticket.ID),
				zap.Error(offErr),
			)
		}
		return nil, p.reject(amount, ReasonMotor, appErr), appErr
	}

	p.state = StateInProgress
	p.active = &activePayout{
		ticket:       ticket,
		lastProgress: now,
	}

	p.syslog.Append(ledger.KindPayoutStarted, fmt.Sprintf("payout %d started, target %d coins", amount, ticket.Target), map[string]interface{}{
		"payout_id": ticket.ID,
		"amount":    amount,
		"target":    ticket.Target,
		"balance":   balance,
	})

	t := ticket
	return &t, Event{
		Type:    EventPayoutStarted,
		Balance: balance,
		Ticket:  &t,
		Amount:  amount,
	}, nil
}

func (p *PayoutController) reject(amount uint32, reason string, err error) Event {
	balance := p.ledger.Balance()
	p.syslog.Append(ledger.KindPayoutRejected, fmt.Sprintf("payout %d rejected: %s", amount, reason), map[string]interface{}{
		"amount":  amount,
		"reason":  reason,
		"balance": balance,
	})
	p.logger.Info("出币请求被拒绝",
		zap.Uint32("amount", amount),
		zap.String("reason", reason),
		zap.Int64("balance", balance),
	)
	return Event{
		Type:    EventPayoutRejected,
		Balance: balance,
		Amount:  amount,
		Reason:  reason,
		Err:     err,
	}
}

// tick 监控进行中的出币，到达目标或卡币时结算
func (p *PayoutController) tick() (Event, bool) {
	if p.state != StateInProgress {
		return Event{}, false
	}

	a := p.active
	total := p.feedback.Total()
	now := p.now()

	if a.stopping {
		return p.stop(a.outcome, total, now)
	}

	if total > a.lastTotal {
		a.lastTotal = total
		a.lastProgress = now
	}

	if total >= a.ticket.Target {
		return p.stop(OutcomeCompleted, total, now)
	}

	if p.stallTimeout > 0 && now.Sub(a.lastProgress) >= p.stallTimeout {
		return p.stop(OutcomeStalled, total, now)
	}

	return Event{}, false
}

// abort 停机时终止进行中的出币，按已出币数扣款
func (p *PayoutController) abort() (Event, bool) {
	if p.state != StateInProgress {
		return Event{}, false
	}
	return p.stop(OutcomeAborted, p.feedback.Total(), p.now())
}

// stop 停止电机并结算。电机停止失败时不扣款，下个周期重试。
func (p *PayoutController) stop(outcome Outcome, total uint32, now time.Time) (Event, bool) {
	a := p.active

	if err := p.motor.Off(); err != nil {
		if !a.stopping {
			p.logger.Error("停止出币电机失败，下个周期重试",
				zap.String("payout_id", a.ticket.ID),
				zap.String("outcome", string(outcome)),
				zap.Error(err),
			)
		}
		a.stopping = true
		a.outcome = outcome
		p.lastErr = apperrors.Wrap(err, apperrors.ErrMotorCommand, "motor off")
		return Event{}, false
	}

	// 完成时只扣目标金额，多出的币记为 excess；卡币或终止时按实际出币扣款
	coins := total
	var excess uint32
	if total >= a.ticket.Target {
		coins = a.ticket.Target
		excess = total - a.ticket.Target
		outcome = OutcomeCompleted
	}
	debited := int64(coins) * p.coinValue
	balance := p.ledger.Debit(debited)

	result := &PayoutResult{
		ID:         a.ticket.ID,
		Amount:     a.ticket.Amount,
		Target:     a.ticket.Target,
		Dispensed:  total,
		Excess:     excess,
		Debited:    debited,
		Balance:    balance,
		StartedAt:  a.ticket.StartedAt,
		FinishedAt: now,
		Duration:   now.Sub(a.ticket.StartedAt),
		Outcome:    outcome,
	}

	p.state = StateIdle
	p.active = nil
	p.lastResult = result

	fields := map[string]interface{}{
		"payout_id": result.ID,
		"amount":    result.Amount,
		"target":    result.Target,
		"dispensed": result.Dispensed,
		"debited":   result.Debited,
		"balance":   result.Balance,
	}

	ev := Event{
		Balance: balance,
		Delta:   -debited,
		Result:  result,
	}

	switch outcome {
	case OutcomeCompleted:
		p.lastErr = nil
		if excess > 0 {
			fields["excess"] = excess
			p.logger.Warn("出币超出目标，多出部分不扣款",
				zap.String("payout_id", result.ID),
				zap.Uint32("target", result.Target),
				zap.Uint32("excess", excess),
			)
		}
		p.syslog.Append(ledger.KindPayoutCompleted, fmt.Sprintf("payout %d completed, balance %d", result.Amount, balance), fields)
		ev.Type = EventPayoutCompleted

	case OutcomeStalled:
		err := apperrors.Newf(apperrors.ErrHopperStalled, "payout %s: %d/%d coins, no feedback for %s",
			result.ID, total, result.Target, p.stallTimeout)
		result.Error = err.Error()
		p.lastErr = err
		p.syslog.Append(ledger.KindPayoutStalled, fmt.Sprintf("payout %d stalled after %d/%d coins", result.Amount, total, result.Target), fields)
		p.logger.Error("出币机卡币或无反馈",
			zap.String("payout_id", result.ID),
			zap.Uint32("dispensed", total),
			zap.Uint32("target", result.Target),
			zap.Duration("stall_timeout", p.stallTimeout),
		)
		ev.Type = EventPayoutStalled
		ev.Err = err

	case OutcomeAborted:
		err := apperrors.Newf(apperrors.ErrCanceled, "payout %s aborted at %d/%d coins", result.ID, total, result.Target)
		result.Error = err.Error()
		p.lastErr = err
		p.syslog.Append(ledger.KindSystem, fmt.Sprintf("payout %d aborted after %d/%d coins", result.Amount, total, result.Target), fields)
		p.logger.Warn("停机终止出币", zap.String("payout_id", result.ID), zap.Uint32("dispensed", total))
		ev.Type = EventPayoutAborted
		ev.Err = err
	}

	return ev, true
}

// status 当前状态快照
func (p *PayoutController) status() PayoutStatus {
	st := PayoutStatus{
		State: p.state,
	}
	if p.active != nil {
		t := p.active.ticket
		st.Current = &t
		st.Dispensed = p.feedback.Total()
		st.Stopping = p.active.stopping
	}
	if p.lastResult != nil {
		r := *p.lastResult
		st.LastResult = &r
	}
	if p.lastErr != nil {
		st.LastError = p.lastErr.Error()
	}
	return st
}
