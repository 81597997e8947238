package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Отказы допуска: «попробуй позже», не ошибка системы.
var (
	ErrCircuitOpen = errors.New("circuit open")
	ErrRateLimited = errors.New("rate limited")
)

// RemoteError — терминальный ответ биржи (4xx кроме 429). Не ретраим.
type RemoteError struct {
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error: http %d: %s", e.Status, e.Body)
}

// TransientError — временный сбой (timeout, 5xx, 429): ретраим и считаем
// в сторону открытия брейкера.
type TransientError struct {
	Status int // 0 для транспортных сбоев
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transient error: http %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// TransportError — сбой до получения ответа (dial, reset, timeout).
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport error: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// RetryExhaustedError — кончился бюджет ретраев, внутри последний сбой.
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Last }

// classifyStatus разводит HTTP-статусы по таксономии §ошибок:
// 2xx — успех, 429/5xx — transient, прочие 4xx — терминальные.
func classifyStatus(status int, body string) error {
	switch {
	case status/100 == 2:
		return nil
	case status == http.StatusTooManyRequests || status/100 == 5:
		return &TransientError{Status: status, Err: fmt.Errorf("%s", body)}
	default:
		return &RemoteError{Status: status, Body: body}
	}
}

// retryable — можно ли пробовать ещё раз.
func retryable(err error) bool {
	var tr *TransientError
	if errors.As(err, &tr) {
		return true
	}
	var tp *TransportError
	if errors.As(err, &tp) {
		return true
	}
	return false
}

// ambiguous — вызов мог уже примениться на бирже (таймаут после отправки).
// Такое нельзя слепо повторять для неидемпотентной записи.
func ambiguous(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	var tp *TransportError
	if errors.As(err, &tp) {
		return ambiguous(tp.Err)
	}
	var tr *TransientError
	if errors.As(err, &tr) && tr.Err != nil {
		return ambiguous(tr.Err)
	}
	return false
}

// Retryable — наружу для оркестратора: FAILED с этим флагом можно переподать.
func Retryable(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrRateLimited)
}
