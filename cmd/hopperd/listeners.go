package main

import (
	"go.uber.org/zap/zapcore"

	"github.com/wfunc/coin-hopper/internal/engine"
	apperrors "github.com/wfunc/coin-hopper/internal/errors"
	"github.com/wfunc/coin-hopper/internal/logger"
)

// logEvent 把引擎事件写入引擎模块日志
func logEvent(ev engine.Event) {
	level := eventLevel(ev)

	switch ev.Type {
	case engine.EventCreditChanged:
		logger.LogCreditEvent(ev.Pulses, ev.Delta, ev.Balance)

	case engine.EventPayoutStarted:
		if ev.Ticket != nil {
			logger.LogPayoutEvent(level, string(ev.Type), ev.Ticket.ID, map[string]interface{}{
				"amount":  ev.Ticket.Amount,
				"target":  ev.Ticket.Target,
				"balance": ev.Balance,
			})
		}

	case engine.EventPayoutCompleted, engine.EventPayoutStalled, engine.EventPayoutAborted:
		if res := ev.Result; res != nil {
			logger.LogPayoutEvent(level, string(ev.Type), res.ID, map[string]interface{}{
				"dispensed": res.Dispensed,
				"excess":    res.Excess,
				"debited":   res.Debited,
				"balance":   res.Balance,
				"duration":  res.Duration.String(),
				"outcome":   string(res.Outcome),
			})
		}

	case engine.EventPayoutRejected:
		data := map[string]interface{}{
			"amount":  ev.Amount,
			"reason":  ev.Reason,
			"balance": ev.Balance,
		}
		if ev.Err != nil {
			data["error"] = ev.Err.Error()
		}
		logger.LogPayoutEvent(level, string(ev.Type), "", data)
	}
}

// eventLevel 卡币和电机故障需要人工处理，记为 error
func eventLevel(ev engine.Event) zapcore.Level {
	switch {
	case apperrors.IsCritical(ev.Err):
		return zapcore.ErrorLevel
	case ev.Err != nil:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
