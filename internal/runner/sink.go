package runner

import (
	"context"

	"trade_exec/internal/models"
	"trade_exec/pkg/logger"
)

// Sink — потребитель событий ядра (журнал, нотифайер). Ядро само никого
// не уведомляет и ничего не персистит — только публикует.
type Sink interface {
	OnExecutionEvent(ctx context.Context, ev models.ExecutionEvent)
	OnBreakerEvent(ctx context.Context, ev models.BreakerEvent)
}

// MultiSink раздаёт событие всем подписчикам по очереди.
type MultiSink []Sink

func (m MultiSink) OnExecutionEvent(ctx context.Context, ev models.ExecutionEvent) {
	for _, s := range m {
		s.OnExecutionEvent(ctx, ev)
	}
}

func (m MultiSink) OnBreakerEvent(ctx context.Context, ev models.BreakerEvent) {
	for _, s := range m {
		s.OnBreakerEvent(ctx, ev)
	}
}

// LogSink — минимальный подписчик: просто пишет в лог.
type LogSink struct{}

func (LogSink) OnExecutionEvent(_ context.Context, ev models.ExecutionEvent) {
	logger.Info("[EXEC] %s %s reason=%q retryable=%v ordId=%s qty=%.8f",
		ev.InstID, ev.State, ev.Reason, ev.Retryable, ev.OrderID, ev.Quantity)
}

func (LogSink) OnBreakerEvent(_ context.Context, ev models.BreakerEvent) {
	logger.Info("[BREAKER] %s %s -> %s (%s)", ev.Name, ev.From, ev.To, ev.Reason)
}
