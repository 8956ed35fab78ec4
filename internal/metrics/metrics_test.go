package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/coin-hopper/internal/engine"
)

func TestCreditEvents(t *testing.T) {
	m := New(nil)

	m.OnEvent(engine.Event{Type: engine.EventCreditChanged, Balance: 30, Delta: 30, Pulses: 3})
	m.OnEvent(engine.Event{Type: engine.EventCreditChanged, Balance: 50, Delta: 20, Pulses: 2})

	assert.Equal(t, float64(50), testutil.ToFloat64(m.Balance))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.PulsesCredited))
	assert.Equal(t, float64(50), testutil.ToFloat64(m.CreditAdded))
}

func TestPayoutLifecycle(t *testing.T) {
	m := New(nil)

	m.OnEvent(engine.Event{Type: engine.EventPayoutStarted, Balance: 50, Amount: 30})
	assert.Equal(t, float64(1), testutil.ToFloat64(m.InProgress))

	m.OnEvent(engine.Event{
		Type:    engine.EventPayoutCompleted,
		Balance: 20,
		Delta:   -30,
		Result: &engine.PayoutResult{
			Dispensed: 4,
			Excess:    1,
			Outcome:   engine.OutcomeCompleted,
			Duration:  1500 * time.Millisecond,
		},
	})
	m.OnEvent(engine.Event{
		Type:    engine.EventPayoutStalled,
		Balance: 10,
		Result:  &engine.PayoutResult{Dispensed: 1, Outcome: engine.OutcomeStalled},
	})

	assert.Equal(t, float64(0), testutil.ToFloat64(m.InProgress))
	assert.Equal(t, float64(10), testutil.ToFloat64(m.Balance))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.CoinsDispensed))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ExcessCoins))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Payouts.WithLabelValues("completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Payouts.WithLabelValues("stalled")))
}

func TestRejections(t *testing.T) {
	m := New(nil)

	m.OnEvent(engine.Event{Type: engine.EventPayoutRejected, Reason: engine.ReasonInsufficient})
	m.OnEvent(engine.Event{Type: engine.EventPayoutRejected, Reason: engine.ReasonInsufficient})
	m.OnEvent(engine.Event{Type: engine.EventPayoutRejected, Reason: engine.ReasonInProgress})

	assert.Equal(t, float64(2), testutil.ToFloat64(m.Rejections.WithLabelValues(engine.ReasonInsufficient)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Rejections.WithLabelValues(engine.ReasonInProgress)))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.InProgress))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New(nil)
	m.OnEvent(engine.Event{Type: engine.EventCreditChanged, Balance: 70, Delta: 70, Pulses: 7})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "hopper_credit_balance 70"))
	assert.True(t, strings.Contains(body, "hopper_pulses_credited_total 7"))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}

func TestIndependentRegistries(t *testing.T) {
	// 每个实例独立注册，重复创建不会冲突
	a := New(nil)
	b := New(nil)
	a.OnEvent(engine.Event{Type: engine.EventCreditChanged, Balance: 10})
	assert.Equal(t, float64(0), testutil.ToFloat64(b.Balance))
	assert.NotSame(t, a.Registry(), b.Registry())
}
