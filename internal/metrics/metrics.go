package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wfunc/coin-hopper/internal/engine"
)

const namespace = "hopper"

// Metrics 引擎指标，作为 engine.Listener 注册
type Metrics struct {
	registry *prometheus.Registry

	Balance        prometheus.Gauge
	PulsesCredited prometheus.Counter
	CreditAdded    prometheus.Counter
	Payouts        *prometheus.CounterVec
	Rejections     *prometheus.CounterVec
	CoinsDispensed prometheus.Counter
	ExcessCoins    prometheus.Counter
	InProgress     prometheus.Gauge
	PayoutDuration prometheus.Histogram
}

// New 创建指标并注册到 reg，reg 为空时新建独立注册表
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Balance: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "credit_balance",
			Help:      "Current credit balance in currency units.",
		}),
		PulsesCredited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pulses_credited_total",
			Help:      "Total acceptor pulses converted to credit.",
		}),
		CreditAdded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credit_added_total",
			Help:      "Total currency units credited from the acceptor.",
		}),
		Payouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payouts_total",
			Help:      "Finished payouts by result.",
		}, []string{"result"}),
		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payout_rejections_total",
			Help:      "Rejected payout requests by reason.",
		}, []string{"reason"}),
		CoinsDispensed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coins_dispensed_total",
			Help:      "Total coins observed on the hopper feedback line.",
		}),
		ExcessCoins: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coins_excess_total",
			Help:      "Coins dispensed beyond the payout target.",
		}),
		InProgress: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "payout_in_progress",
			Help:      "1 while the hopper motor is running a payout.",
		}),
		PayoutDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payout_duration_seconds",
			Help:      "Time from motor on to motor off.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
	}
}

// Registry 指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// OnEvent 实现 engine.Listener
func (m *Metrics) OnEvent(ev engine.Event) {
	switch ev.Type {
	case engine.EventCreditChanged:
		m.Balance.Set(float64(ev.Balance))
		if ev.Pulses > 0 {
			m.PulsesCredited.Add(float64(ev.Pulses))
		}
		if ev.Delta > 0 {
			m.CreditAdded.Add(float64(ev.Delta))
		}

	case engine.EventPayoutStarted:
		m.InProgress.Set(1)

	case engine.EventPayoutCompleted, engine.EventPayoutStalled, engine.EventPayoutAborted:
		m.InProgress.Set(0)
		m.Balance.Set(float64(ev.Balance))
		if res := ev.Result; res != nil {
			m.Payouts.WithLabelValues(string(res.Outcome)).Inc()
			m.CoinsDispensed.Add(float64(res.Dispensed))
			if res.Excess > 0 {
				m.ExcessCoins.Add(float64(res.Excess))
			}
			m.PayoutDuration.Observe(res.Duration.Seconds())
		}

	case engine.EventPayoutRejected:
		m.Rejections.WithLabelValues(ev.Reason).Inc()
	}
}
