package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	apperrors "github.com/wfunc/coin-hopper/internal/errors"
	"github.com/wfunc/coin-hopper/internal/ledger"
)

// fakeMotor 记录电机命令的测试替身
type fakeMotor struct {
	mu       sync.Mutex
	running  bool
	onCalls  int
	offCalls int
	offOK    int // 成功的停止命令次数
	failOn   bool
	latchOn  bool // 启动命令失败但继电器已吸合，例如 ACK 超时
	failOff  int  // 接下来失败的停止命令次数
}

func (m *fakeMotor) On() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCalls++
	if m.failOn {
		if m.latchOn {
			m.running = true
		}
		return errors.New("relay stuck")
	}
	m.running = true
	return nil
}

func (m *fakeMotor) Off() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offCalls++
	if m.failOff > 0 {
		m.failOff--
		return errors.New("relay stuck")
	}
	m.running = false
	m.offOK++
	return nil
}

func (m *fakeMotor) isRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// fakeClock 手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// eventRecorder 收集事件
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) OnEvent(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// EngineTestSuite 引擎测试套件
type EngineTestSuite struct {
	suite.Suite
	motor  *fakeMotor
	clock  *fakeClock
	events *eventRecorder
	engine *Engine
}

func (s *EngineTestSuite) SetupTest() {
	s.motor = &fakeMotor{}
	s.clock = newFakeClock()
	s.events = &eventRecorder{}
	s.engine = s.newEngine(DefaultConfig())
}

func (s *EngineTestSuite) newEngine(cfg Config) *Engine {
	e, err := New(cfg, s.motor, WithClock(s.clock.Now))
	s.Require().NoError(err)
	e.Subscribe(s.events)
	return e
}

func (s *EngineTestSuite) insert(n int) {
	for i := 0; i < n; i++ {
		s.engine.IntakeEdge().OnEdge()
	}
}

func (s *EngineTestSuite) dispense(n int) {
	for i := 0; i < n; i++ {
		s.engine.FeedbackEdge().OnEdge()
	}
}

// 5 个投币脉冲入账 50，出币 30，3 个反馈脉冲后停机，余额 20
func (s *EngineTestSuite) TestScenarioCreditThenPayout() {
	s.insert(5)
	s.engine.TickIntake()
	s.Equal(int64(50), s.engine.Balance())

	ticket, err := s.engine.RequestPayout(30)
	s.Require().NoError(err)
	s.Equal(uint32(3), ticket.Target)
	s.NotEmpty(ticket.ID)
	s.True(s.motor.isRunning())
	s.Equal(StateInProgress, s.engine.Status().State)

	s.dispense(2)
	s.engine.TickPayout()
	s.Equal(0, s.motor.offCalls)
	s.Equal(int64(50), s.engine.Balance())
	s.Equal(uint32(2), s.engine.Status().Dispensed)

	s.dispense(1)
	s.engine.TickPayout()
	s.engine.TickPayout()

	s.Equal(1, s.motor.offCalls)
	s.Equal(int64(20), s.engine.Balance())

	st := s.engine.Status()
	s.Equal(StateIdle, st.State)
	s.Nil(st.Current)
	s.Require().NotNil(st.LastResult)
	s.Equal(OutcomeCompleted, st.LastResult.Outcome)
	s.Equal(int64(30), st.LastResult.Debited)

	completed := s.events.ofType(EventPayoutCompleted)
	s.Require().Len(completed, 1)
	s.Equal(ticket.ID, completed[0].Result.ID)
	s.Equal(int64(20), completed[0].Balance)
}

// 余额 20 请求 25，余额不足且不改变状态
func (s *EngineTestSuite) TestScenarioInsufficientCredit() {
	s.insert(2)
	s.engine.TickIntake()

	ticket, err := s.engine.RequestPayout(25)
	s.Nil(ticket)
	s.True(apperrors.Is(err, apperrors.ErrInsufficientCredit))
	s.Equal(int64(20), s.engine.Balance())
	s.Equal(StateIdle, s.engine.Status().State)
	s.Equal(0, s.motor.onCalls)

	rejected := s.events.ofType(EventPayoutRejected)
	s.Require().Len(rejected, 1)
	s.Equal(ReasonInsufficient, rejected[0].Reason)

	entries := s.engine.Log().Entries()
	s.Equal(ledger.KindPayoutRejected, entries[len(entries)-1].Kind)
}

func (s *EngineTestSuite) TestInvalidAmount() {
	s.insert(10)
	s.engine.TickIntake()

	for _, amount := range []uint32{0, 25, 7} {
		_, err := s.engine.RequestPayout(amount)
		s.True(apperrors.Is(err, apperrors.ErrInvalidAmount), "金额 %d", amount)
	}
	s.Equal(int64(100), s.engine.Balance())
	s.Equal(0, s.motor.onCalls)
}

// 进行中时任何金额都返回 PayoutInProgress
func (s *EngineTestSuite) TestMutualExclusion() {
	s.insert(10)
	s.engine.TickIntake()

	_, err := s.engine.RequestPayout(30)
	s.Require().NoError(err)

	for _, amount := range []uint32{10, 30, 1000, 0} {
		_, err := s.engine.RequestPayout(amount)
		s.True(apperrors.Is(err, apperrors.ErrPayoutInProgress), "金额 %d", amount)
	}
	s.Equal(1, s.motor.onCalls)
	s.Equal(int64(100), s.engine.Balance())
}

// 入账任务按任意节奏运行，总入账等于脉冲数乘面值
func (s *EngineTestSuite) TestCreditConservation() {
	rng := rand.New(rand.NewSource(42))
	total := 0
	for i := 0; i < 200; i++ {
		n := rng.Intn(4)
		s.insert(n)
		total += n
		if rng.Intn(3) == 0 {
			s.engine.TickIntake()
		}
	}
	s.engine.TickIntake()

	s.Equal(int64(total)*10, s.engine.Balance())

	// 没有新脉冲时不入账、不发事件
	before := len(s.events.ofType(EventCreditChanged))
	s.engine.TickIntake()
	s.Equal(before, len(s.events.ofType(EventCreditChanged)))
}

// 并发边沿与 Run 同时进行不丢脉冲
func (s *EngineTestSuite) TestConcurrentEdgesWithRun() {
	cfg := DefaultConfig()
	cfg.IntakeInterval = time.Millisecond
	cfg.PayoutInterval = time.Millisecond
	e, err := New(cfg, s.motor)
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				e.IntakeEdge().OnEdge()
			}
		}()
	}
	wg.Wait()

	cancel()
	<-done

	s.Equal(int64(2000*10), e.Balance())
	s.False(s.motor.isRunning())
}

// 反馈超出目标时只扣目标金额
func (s *EngineTestSuite) TestOvershootDebitsTargetOnly() {
	s.insert(5)
	s.engine.TickIntake()

	_, err := s.engine.RequestPayout(30)
	s.Require().NoError(err)

	s.dispense(4)
	s.engine.TickPayout()

	s.Equal(int64(20), s.engine.Balance())
	res := s.engine.Status().LastResult
	s.Require().NotNil(res)
	s.Equal(uint32(4), res.Dispensed)
	s.Equal(uint32(1), res.Excess)
	s.Equal(int64(30), res.Debited)
}

// 反馈停止后超时，停机并只扣已出币
func (s *EngineTestSuite) TestStallTimeout() {
	cfg := DefaultConfig()
	cfg.StallTimeout = 5 * time.Second
	s.engine = s.newEngine(cfg)

	s.insert(5)
	s.engine.TickIntake()
	ticket, err := s.engine.RequestPayout(40)
	s.Require().NoError(err)

	s.dispense(1)
	s.clock.Advance(time.Second)
	s.engine.TickPayout()

	// 有进度时重新计时
	s.clock.Advance(4 * time.Second)
	s.engine.TickPayout()
	s.Equal(StateInProgress, s.engine.Status().State)

	s.clock.Advance(time.Second)
	s.engine.TickPayout()
	s.Equal(StateIdle, s.engine.Status().State)
	s.Equal(1, s.motor.offCalls)
	s.Equal(int64(40), s.engine.Balance())

	stalled := s.events.ofType(EventPayoutStalled)
	s.Require().Len(stalled, 1)
	s.Equal(ticket.ID, stalled[0].Result.ID)
	s.Equal(OutcomeStalled, stalled[0].Result.Outcome)
	s.True(apperrors.Is(stalled[0].Err, apperrors.ErrHopperStalled))
	s.Contains(s.engine.Status().LastError, "出币机卡币")

	s.engine.TickPayout()
	s.Equal(1, s.motor.offCalls)

	// 卡币后可以再次出币
	_, err = s.engine.RequestPayout(40)
	s.NoError(err)
}

func (s *EngineTestSuite) TestStallDisabled() {
	cfg := DefaultConfig()
	cfg.StallTimeout = 0
	s.engine = s.newEngine(cfg)

	s.insert(3)
	s.engine.TickIntake()
	_, err := s.engine.RequestPayout(30)
	s.Require().NoError(err)

	s.clock.Advance(24 * time.Hour)
	s.engine.TickPayout()
	s.Equal(StateInProgress, s.engine.Status().State)
	s.Equal(0, s.motor.offCalls)
}

// 电机启动失败时回到空闲
func (s *EngineTestSuite) TestMotorOnFailureRollsBack() {
	s.insert(5)
	s.engine.TickIntake()
	s.motor.failOn = true

	ticket, err := s.engine.RequestPayout(30)
	s.Nil(ticket)
	s.True(apperrors.Is(err, apperrors.ErrMotorCommand))
	s.Equal(StateIdle, s.engine.Status().State)
	s.Equal(int64(50), s.engine.Balance())

	s.motor.failOn = false
	_, err = s.engine.RequestPayout(30)
	s.NoError(err)
}

// 启动命令超时但继电器已吸合，补发停止命令后回到空闲
func (s *EngineTestSuite) TestMotorOnFailureSendsOff() {
	s.insert(5)
	s.engine.TickIntake()
	s.motor.failOn = true
	s.motor.latchOn = true

	_, err := s.engine.RequestPayout(30)
	s.True(apperrors.Is(err, apperrors.ErrMotorCommand))
	s.Equal(1, s.motor.offCalls)
	s.False(s.motor.isRunning())
	s.Equal(StateIdle, s.engine.Status().State)
	s.Equal(int64(50), s.engine.Balance())
}

// 启动和补发的停止都失败时保持出币中，停止成功后按实际出币扣款
func (s *EngineTestSuite) TestMotorOnFailureKeepsStoppingUntilOff() {
	s.insert(5)
	s.engine.TickIntake()
	s.motor.failOn = true
	s.motor.latchOn = true
	s.motor.failOff = 1

	_, err := s.engine.RequestPayout(30)
	s.True(apperrors.Is(err, apperrors.ErrMotorCommand))

	status := s.engine.Status()
	s.Equal(StateInProgress, status.State)
	s.True(status.Stopping)
	s.True(s.motor.isRunning())

	_, err = s.engine.RequestPayout(10)
	s.True(apperrors.Is(err, apperrors.ErrPayoutInProgress))

	// 继电器吸合期间出了 2 枚币
	s.dispense(2)
	s.engine.TickPayout()

	s.False(s.motor.isRunning())
	s.Equal(StateIdle, s.engine.Status().State)
	s.Equal(int64(30), s.engine.Balance())

	aborted := s.events.ofType(EventPayoutAborted)
	s.Require().Len(aborted, 1)
	s.Equal(uint32(2), aborted[0].Result.Dispensed)
	s.Equal(int64(20), aborted[0].Result.Debited)

	s.engine.TickPayout()
	s.Equal(2, s.motor.offCalls)
}

// 电机停止失败时下个周期重试，只扣一次款
func (s *EngineTestSuite) TestMotorOffFailureRetries() {
	s.insert(5)
	s.engine.TickIntake()
	_, err := s.engine.RequestPayout(30)
	s.Require().NoError(err)

	s.motor.failOff = 2
	s.dispense(3)

	s.engine.TickPayout()
	s.True(s.engine.Status().Stopping)
	s.Equal(int64(50), s.engine.Balance())

	_, err = s.engine.RequestPayout(10)
	s.True(apperrors.Is(err, apperrors.ErrPayoutInProgress))

	s.engine.TickPayout()
	s.engine.TickPayout()
	s.engine.TickPayout()

	s.Equal(3, s.motor.offCalls)
	s.Equal(1, s.motor.offOK)
	s.Equal(int64(20), s.engine.Balance())
	s.Equal(StateIdle, s.engine.Status().State)
	s.Len(s.events.ofType(EventPayoutCompleted), 1)
}

// 新出币开始时清掉残留反馈脉冲
func (s *EngineTestSuite) TestStrayFeedbackDiscarded() {
	s.insert(5)
	s.engine.TickIntake()
	s.dispense(2)

	_, err := s.engine.RequestPayout(30)
	s.Require().NoError(err)
	s.engine.TickPayout()
	s.Equal(StateInProgress, s.engine.Status().State)
	s.Equal(uint32(0), s.engine.Status().Dispensed)

	var stray int
	for _, e := range s.engine.Log().Entries() {
		if e.Kind == ledger.KindStrayFeedback {
			stray++
		}
	}
	s.Equal(1, stray)
}

// 停机时终止进行中的出币并停止电机
func (s *EngineTestSuite) TestRunAbortsOnShutdown() {
	s.insert(5)
	s.engine.TickIntake()
	_, err := s.engine.RequestPayout(50)
	s.Require().NoError(err)
	s.dispense(2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.ErrorIs(s.engine.Run(ctx), context.Canceled)

	s.False(s.motor.isRunning())
	s.Equal(StateIdle, s.engine.Status().State)
	s.Equal(int64(30), s.engine.Balance())

	aborted := s.events.ofType(EventPayoutAborted)
	s.Require().Len(aborted, 1)
	s.Equal(OutcomeAborted, aborted[0].Result.Outcome)
}

// 监听者可以在回调中读取引擎状态
func (s *EngineTestSuite) TestListenerMayReadEngine() {
	var balances []int64
	s.engine.Subscribe(ListenerFunc(func(ev Event) {
		balances = append(balances, s.engine.Balance())
		_ = s.engine.Status()
	}))

	s.insert(3)
	s.engine.TickIntake()
	s.Equal([]int64{30}, balances)

	credit := s.events.ofType(EventCreditChanged)
	s.Require().Len(credit, 1)
	s.Equal(int64(30), credit[0].Delta)
	s.Equal(uint32(3), credit[0].Pulses)
	s.Equal(s.clock.Now(), credit[0].Time)
}

// 并发入账和出币时，监听者按序号顺序收到事件，余额逐条衔接
func (s *EngineTestSuite) TestEventsDeliveredInOrder() {
	var (
		mu     sync.Mutex
		events []Event
	)
	s.engine.Subscribe(ListenerFunc(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s.engine.IntakeEdge().OnEdge()
			s.engine.TickIntake()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_, _ = s.engine.RequestPayout(10)
			s.engine.FeedbackEdge().OnEdge()
			s.engine.TickPayout()
		}
	}()
	wg.Wait()

	s.Require().NotEmpty(events)
	var balance int64
	for i, ev := range events {
		s.Equal(uint64(i+1), ev.Seq)
		s.Equal(balance+ev.Delta, ev.Balance, "event %d %s", ev.Seq, ev.Type)
		balance = ev.Balance
	}
	s.Equal(s.engine.Balance(), balance)
}

// 每次操作后余额不为负
func (s *EngineTestSuite) TestBalanceNeverNegative() {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		switch rng.Intn(4) {
		case 0:
			s.insert(rng.Intn(3))
			s.engine.TickIntake()
		case 1:
			_, _ = s.engine.RequestPayout(uint32(rng.Intn(8)) * 10)
		case 2:
			s.dispense(rng.Intn(3))
			s.engine.TickPayout()
		case 3:
			s.clock.Advance(10 * time.Second)
			s.engine.TickPayout()
		}
		s.GreaterOrEqual(s.engine.Balance(), int64(0))
	}
}

func (s *EngineTestSuite) TestConfigValidate() {
	cfg := DefaultConfig()
	cfg.CoinValue = 0
	_, err := New(cfg, s.motor)
	s.True(apperrors.Is(err, apperrors.ErrConfigValidate))

	_, err = New(DefaultConfig(), nil)
	s.True(apperrors.Is(err, apperrors.ErrInvalidParam))
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}
