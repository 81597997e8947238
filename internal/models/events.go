package models

import "time"

// ExecState — состояние машины исполнения одного сигнала.
type ExecState string

const (
	ExecIdle       ExecState = "IDLE"
	ExecSizing     ExecState = "SIZING"
	ExecSubmitting ExecState = "SUBMITTING"
	ExecConfirmed  ExecState = "CONFIRMED"
	ExecRejected   ExecState = "REJECTED"
	ExecFailed     ExecState = "FAILED"
)

// Terminal — CONFIRMED/REJECTED/FAILED завершают обработку сигнала.
func (s ExecState) Terminal() bool {
	return s == ExecConfirmed || s == ExecRejected || s == ExecFailed
}

// ExecutionEvent — каждый переход машины исполнения. Уходит в журнал и нотифайер.
type ExecutionEvent struct {
	Ts            time.Time
	InstID        string
	State         ExecState
	Reason        string
	Retryable     bool // FAILED по rate limit / открытому брейкеру можно повторить позже
	OrderID       string
	ClientOrderID string
	Quantity      float64
}

// BreakerEvent — смена состояния circuit breaker'а по зависимости.
type BreakerEvent struct {
	Ts     time.Time
	Name   string
	From   string
	To     string
	Reason string
}

// CallOutcome — итог одного сетевого вызова гейтвея. Живёт только в процессе.
type CallOutcome struct {
	Dependency     string
	Success        bool
	HTTPStatus     int
	ErrKind        string
	Latency        time.Duration
	Cacheable      bool
	IdempotencyKey string
}
