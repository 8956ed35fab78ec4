package engine

import (
	"fmt"

	"github.com/wfunc/coin-hopper/internal/ledger"
	"github.com/wfunc/coin-hopper/internal/pulse"
)

// Accumulator 投币入账任务。
// 每个周期取出投币计数增量，按脉冲面值入账。
type Accumulator struct {
	intake    *pulse.IntakeCounter
	ledger    *ledger.Ledger
	syslog    *ledger.SystemLog
	unitValue int64
}

func newAccumulator(intake *pulse.IntakeCounter, l *ledger.Ledger, syslog *ledger.SystemLog, unitValue int64) *Accumulator {
	return &Accumulator{
		intake:    intake,
		ledger:    l,
		syslog:    syslog,
		unitValue: unitValue,
	}
}

// tick 执行一次入账，没有新脉冲时返回 false。调用方持有引擎锁。
func (a *Accumulator) tick() (Event, bool) {
	delta := a.intake.Drain()
	if delta == 0 {
		return Event{}, false
	}

	added := int64(delta) * a.unitValue
	balance := a.ledger.Credit(added)

	a.syslog.Append(ledger.KindCredit, fmt.Sprintf("+%d, total %d", added, balance), map[string]interface{}{
		"pulses":  delta,
		"added":   added,
		"balance": balance,
	})

	return Event{
		Type:    EventCreditChanged,
		Balance: balance,
		Delta:   added,
		Pulses:  delta,
	}, true
}
