package notify

import (
	"context"

	"trade_exec/internal/models"
)

// AlertSink — подписчик событий ядра: шумим только о том, что требует
// человека (открытие брейкера, FAILED-исполнения). Остальное — в журнал.
type AlertSink struct {
	n Notifier
}

func NewAlertSink(n Notifier) *AlertSink {
	return &AlertSink{n: n}
}

func (s *AlertSink) OnExecutionEvent(_ context.Context, ev models.ExecutionEvent) {
	if ev.State != models.ExecFailed {
		return
	}
	if ev.Retryable {
		s.n.Sendf("⏳ %s: исполнение отложено (%s)", ev.InstID, ev.Reason)
		return
	}
	s.n.Sendf("🚨 %s: исполнение провалено — %s", ev.InstID, ev.Reason)
}

func (s *AlertSink) OnBreakerEvent(_ context.Context, ev models.BreakerEvent) {
	switch ev.To {
	case "OPEN":
		s.n.Sendf("⛔️ Брейкер %s открыт: %s", ev.Name, ev.Reason)
	case "CLOSED":
		s.n.Sendf("✅ Брейкер %s закрыт, зависимость ожила", ev.Name)
	}
}
