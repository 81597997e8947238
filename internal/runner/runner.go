package runner

import (
	"context"
	"sync"
	"time"

	"trade_exec/internal/models"
	"trade_exec/internal/modules/config"
	gwsvc "trade_exec/internal/modules/gateway/service"
	szsvc "trade_exec/internal/modules/sizing/service"
	"trade_exec/pkg/logger"
)

// Runner — оркестратор исполнения: сигнал -> сайзинг -> отправка ордера.
// Переживает конкурентные сигналы от нескольких таймеров/лупов.
type Runner struct {
	cfg   *config.Config
	sizer *szsvc.Sizer
	gw    *gwsvc.Gateway
	heat  *HeatTracker
	sink  Sink

	mu       sync.Mutex
	draining bool // после Stop новые сигналы не берём, in-flight дорабатывают
	inflight sync.WaitGroup
}

func New(cfg *config.Config, sizer *szsvc.Sizer, gw *gwsvc.Gateway, heat *HeatTracker, sink Sink) *Runner {
	return &Runner{
		cfg:   cfg,
		sizer: sizer,
		gw:    gw,
		heat:  heat,
		sink:  sink,
	}
}

// Run читает сигналы до отмены контекста.
func (r *Runner) Run(ctx context.Context, signals <-chan models.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			r.mu.Lock()
			if r.draining {
				r.mu.Unlock()
				continue
			}
			r.inflight.Add(1)
			r.mu.Unlock()

			go func() {
				defer r.inflight.Done()
				r.HandleSignal(ctx, sig)
			}()
		}
	}
}

// Drain останавливает приём новых сигналов и ждёт in-flight вызовы:
// рвать соединение посреди отправки ордера нельзя — исход станет неоднозначным.
func (r *Runner) Drain(ctx context.Context) error {
	r.mu.Lock()
	r.draining = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PumpBreakerEvents пробрасывает смены состояния брейкеров в подписчиков.
func (r *Runner) PumpBreakerEvents(ctx context.Context, events <-chan models.BreakerEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.sink.OnBreakerEvent(ctx, ev)
		}
	}
}

func (r *Runner) emit(ctx context.Context, ev models.ExecutionEvent) {
	if ev.Ts.IsZero() {
		ev.Ts = time.Now()
	}
	r.sink.OnExecutionEvent(ctx, ev)
	if ev.State.Terminal() {
		logger.Info("signal %s: terminal %s (%s)", ev.InstID, ev.State, ev.Reason)
	}
}
