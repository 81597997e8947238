package runner

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade_exec/internal/models"
	brsvc "trade_exec/internal/modules/breaker/service"
	"trade_exec/internal/modules/config"
	gwsvc "trade_exec/internal/modules/gateway/service"
	rlsvc "trade_exec/internal/modules/ratelimit/service"
	cachesvc "trade_exec/internal/modules/respcache/service"
	szsvc "trade_exec/internal/modules/sizing/service"
	"trade_exec/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// stubConn — коннектор с управляемым поведением для тестов оркестратора.
type stubConn struct {
	mu sync.Mutex

	balance    float64
	balanceErr error
	meta       models.InstrumentMeta
	placeFn    func(ord models.OrderRequest) (models.OrderAck, error)

	balanceCalls int
	placeCalls   int
}

func (s *stubConn) Ticker(_ context.Context, instID string) (models.Ticker, error) {
	return models.Ticker{InstID: instID, Last: 1}, nil
}

func (s *stubConn) Balance(_ context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balanceCalls++
	if s.balanceErr != nil {
		return 0, s.balanceErr
	}
	return s.balance, nil
}

func (s *stubConn) PlaceMarket(_ context.Context, ord models.OrderRequest) (models.OrderAck, error) {
	s.mu.Lock()
	s.placeCalls++
	fn := s.placeFn
	s.mu.Unlock()
	if fn == nil {
		return models.OrderAck{OrderID: "1", ClientOrderID: ord.ClientOrderID, InstID: ord.InstID, Status: "filled"}, nil
	}
	return fn(ord)
}

func (s *stubConn) CancelOrder(_ context.Context, _, _ string) error { return nil }

func (s *stubConn) OrderStatus(_ context.Context, instID, clOrdID string) (models.OrderAck, error) {
	return models.OrderAck{ClientOrderID: clOrdID, InstID: instID, Status: "filled"}, nil
}

func (s *stubConn) OpenPositions(_ context.Context) ([]models.OpenPosition, error) { return nil, nil }

func (s *stubConn) InstrumentMeta(_ context.Context, instID string) (models.InstrumentMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meta.InstID != "" {
		return s.meta, nil
	}
	return models.InstrumentMeta{InstID: instID, LotSize: 0.0001, MinSize: 0.0001, TickSize: 0.1}, nil
}

// captureSink копит события под мьютексом.
type captureSink struct {
	mu   sync.Mutex
	exec []models.ExecutionEvent
	brk  []models.BreakerEvent
}

func (c *captureSink) OnExecutionEvent(_ context.Context, ev models.ExecutionEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exec = append(c.exec, ev)
}

func (c *captureSink) OnBreakerEvent(_ context.Context, ev models.BreakerEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.brk = append(c.brk, ev)
}

func (c *captureSink) events() []models.ExecutionEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.ExecutionEvent, len(c.exec))
	copy(out, c.exec)
	return out
}

func (c *captureSink) terminals() []models.ExecutionEvent {
	var out []models.ExecutionEvent
	for _, ev := range c.events() {
		if ev.State.Terminal() {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	runner   *Runner
	conn     *stubConn
	sink     *captureSink
	heat     *HeatTracker
	breakers *brsvc.Registry
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	cfg := &config.Config{}
	cfg.Risk.RiskPerTrade = 0.01
	cfg.Risk.MaxPortfolioHeat = 0.05
	cfg.Risk.MinRiskReward = 1.5
	cfg.Risk.KellyCap = 0.25
	cfg.Risk.KellyFraction = 0.25

	conn := &stubConn{balance: 10000}
	limiter := rlsvc.NewLimiter(map[string]rlsvc.BudgetSpec{
		"orders_per_second": {Capacity: 50, RefillRate: 50},
		"weight_per_minute": {Capacity: 1200, RefillRate: 20},
		"orders_per_day":    {Capacity: 200000, RefillRate: 2.31},
	})
	breakers := brsvc.NewRegistry(brsvc.Defaults{FailureThreshold: 5, SuccessThreshold: 1, OpenTimeout: time.Minute}, nil)
	caches := cachesvc.NewManager(100)
	gw := gwsvc.NewGateway(conn, limiter, breakers, caches,
		gwsvc.RetryPolicy{MaxAttempts: 0, BackoffBase: time.Millisecond, BackoffMax: time.Millisecond},
		gwsvc.TTLs{Ticker: time.Second, Balance: 5 * time.Second, Meta: 10 * time.Minute},
	)

	sizer := szsvc.NewSizer(szsvc.Params{
		RiskPerTrade:     cfg.Risk.RiskPerTrade,
		MaxPortfolioHeat: cfg.Risk.MaxPortfolioHeat,
		MinRiskReward:    cfg.Risk.MinRiskReward,
		KellyCap:         cfg.Risk.KellyCap,
		KellyFraction:    cfg.Risk.KellyFraction,
	})

	sink := &captureSink{}
	heat := NewHeatTracker()
	return fixture{
		runner:   New(cfg, sizer, gw, heat, sink),
		conn:     conn,
		sink:     sink,
		heat:     heat,
		breakers: breakers,
	}
}

func buySignal() models.Signal {
	return models.Signal{
		InstID:     "BTC-USDT",
		Action:     models.ActionBuy,
		Entry:      100,
		StopLoss:   98,
		TakeProfit: 104,
	}
}

func TestHandleSignalHoldRejected(t *testing.T) {
	f := newFixture(t)

	f.runner.HandleSignal(context.Background(), models.Signal{InstID: "BTC-USDT", Action: models.ActionHold})

	events := f.sink.events()
	require.Len(t, events, 1)
	assert.Equal(t, models.ExecRejected, events[0].State)
	assert.Equal(t, "hold signal", events[0].Reason)
	assert.Equal(t, 0, f.conn.balanceCalls, "HOLD не трогает сеть")
}

func TestHandleSignalHappyPath(t *testing.T) {
	f := newFixture(t)

	f.runner.HandleSignal(context.Background(), buySignal())

	events := f.sink.events()
	require.Len(t, events, 3)
	assert.Equal(t, models.ExecSizing, events[0].State)
	assert.Equal(t, models.ExecSubmitting, events[1].State)
	assert.Equal(t, models.ExecConfirmed, events[2].State)

	// 1% от 10000 при стопе в 2 => 50 единиц
	assert.InDelta(t, 50.0, events[2].Quantity, 1e-9)
	assert.NotEmpty(t, events[2].OrderID)
	assert.NotEmpty(t, events[2].ClientOrderID)

	// риск подтверждённой позиции попал в heat
	assert.InDelta(t, 0.01, f.heat.Current(), 1e-9)
	require.Len(t, f.sink.terminals(), 1)
}

func TestHandleSignalSellSide(t *testing.T) {
	f := newFixture(t)

	var got models.OrderRequest
	f.conn.placeFn = func(ord models.OrderRequest) (models.OrderAck, error) {
		got = ord
		return models.OrderAck{OrderID: "1", ClientOrderID: ord.ClientOrderID, Status: "filled"}, nil
	}

	f.runner.HandleSignal(context.Background(), models.Signal{
		InstID: "ETH-USDT", Action: models.ActionSell,
		Entry: 100, StopLoss: 102, TakeProfit: 96,
	})

	assert.Equal(t, "sell", got.Side)
	require.Len(t, f.sink.terminals(), 1)
	assert.Equal(t, models.ExecConfirmed, f.sink.terminals()[0].State)
}

func TestHandleSignalSizerRejectSkipsNetwork(t *testing.T) {
	f := newFixture(t)

	sig := buySignal()
	sig.StopLoss = sig.Entry // нулевая дистанция до стопа

	f.runner.HandleSignal(context.Background(), sig)

	terminals := f.sink.terminals()
	require.Len(t, terminals, 1)
	assert.Equal(t, models.ExecRejected, terminals[0].State)
	assert.Equal(t, string(models.RejectUndefinedRisk), terminals[0].Reason)
	assert.Equal(t, 0, f.conn.placeCalls, "отказ сайзера не доходит до биржи")
}

func TestHandleSignalBalanceUnavailableRetryable(t *testing.T) {
	f := newFixture(t)

	// счётная зависимость лежит: FAILED с retryable-флагом
	br := f.breakers.Get("okx_account")
	for i := 0; i < 5; i++ {
		br.RecordFailure("down")
	}

	f.runner.HandleSignal(context.Background(), buySignal())

	terminals := f.sink.terminals()
	require.Len(t, terminals, 1)
	assert.Equal(t, models.ExecFailed, terminals[0].State)
	assert.True(t, terminals[0].Retryable)
	assert.Equal(t, 0, f.conn.placeCalls)
}

func TestHandleSignalPlaceTerminalFailure(t *testing.T) {
	f := newFixture(t)
	f.conn.placeFn = func(models.OrderRequest) (models.OrderAck, error) {
		return models.OrderAck{}, &gwsvc.RemoteError{Status: 400, Body: "size too small"}
	}

	f.runner.HandleSignal(context.Background(), buySignal())

	terminals := f.sink.terminals()
	require.Len(t, terminals, 1)
	assert.Equal(t, models.ExecFailed, terminals[0].State)
	assert.False(t, terminals[0].Retryable, "отказ биржи не лечится повтором")
	assert.Equal(t, 0.0, f.heat.Current(), "heat не растёт без подтверждения")
}

func TestHandleSignalQuantityRoundedToLot(t *testing.T) {
	f := newFixture(t)
	f.conn.meta = models.InstrumentMeta{InstID: "BTC-USDT", LotSize: 20, MinSize: 20, TickSize: 0.1}

	f.runner.HandleSignal(context.Background(), buySignal())

	terminals := f.sink.terminals()
	require.Len(t, terminals, 1)
	assert.Equal(t, models.ExecConfirmed, terminals[0].State)
	// 50 прижимается вниз к лоту 20
	assert.InDelta(t, 40.0, terminals[0].Quantity, 1e-9)
}

func TestHandleSignalBelowMinSizeRejected(t *testing.T) {
	f := newFixture(t)
	f.conn.meta = models.InstrumentMeta{InstID: "BTC-USDT", LotSize: 1, MinSize: 60, TickSize: 0.1}

	f.runner.HandleSignal(context.Background(), buySignal())

	terminals := f.sink.terminals()
	require.Len(t, terminals, 1)
	assert.Equal(t, models.ExecRejected, terminals[0].State)
	assert.Equal(t, string(models.RejectBelowMinSize), terminals[0].Reason)
	assert.Equal(t, 0, f.conn.placeCalls)
}

func TestRunnerDrainWaitsForInflight(t *testing.T) {
	f := newFixture(t)

	started := make(chan struct{})
	release := make(chan struct{})
	f.conn.placeFn = func(ord models.OrderRequest) (models.OrderAck, error) {
		close(started)
		<-release
		return models.OrderAck{OrderID: "1", ClientOrderID: ord.ClientOrderID, Status: "filled"}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan models.Signal, 1)
	go f.runner.Run(ctx, signals)

	signals <- buySignal()
	<-started

	drainDone := make(chan error, 1)
	go func() { drainDone <- f.runner.Drain(context.Background()) }()

	select {
	case <-drainDone:
		t.Fatal("Drain вернулся до завершения in-flight ордера")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-drainDone)
	require.Len(t, f.sink.terminals(), 1)
	assert.Equal(t, models.ExecConfirmed, f.sink.terminals()[0].State)

	// после Drain новые сигналы игнорируются
	signals <- buySignal()
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, f.sink.terminals(), 1)
}

func TestRunnerDrainTimeout(t *testing.T) {
	f := newFixture(t)

	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	f.conn.placeFn = func(ord models.OrderRequest) (models.OrderAck, error) {
		close(started)
		<-release
		return models.OrderAck{}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan models.Signal, 1)
	go f.runner.Run(ctx, signals)
	signals <- buySignal()
	<-started

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer drainCancel()
	assert.ErrorIs(t, f.runner.Drain(drainCtx), context.DeadlineExceeded)
}

func TestPumpBreakerEvents(t *testing.T) {
	f := newFixture(t)

	events := make(chan models.BreakerEvent, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.runner.PumpBreakerEvents(ctx, events)
		close(done)
	}()

	events <- models.BreakerEvent{Name: "okx_trade", From: "CLOSED", To: "OPEN", Reason: "down"}

	assert.Eventually(t, func() bool {
		f.sink.mu.Lock()
		defer f.sink.mu.Unlock()
		return len(f.sink.brk) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestHeatTracker(t *testing.T) {
	h := NewHeatTracker()
	assert.Equal(t, 0.0, h.Current())

	h.AddRisk("a", 0.01)
	h.AddRisk("b", 0.02)
	h.AddRisk("zero", 0) // не учитывается
	assert.InDelta(t, 0.03, h.Current(), 1e-9)

	h.ReleaseRisk("a")
	assert.InDelta(t, 0.02, h.Current(), 1e-9)

	h.ReleaseRisk("missing") // no-op
	assert.InDelta(t, 0.02, h.Current(), 1e-9)
}
