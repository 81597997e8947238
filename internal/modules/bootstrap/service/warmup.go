package service

import (
	"context"
	"fmt"
	"sync"

	gwsvc "trade_exec/internal/modules/gateway/service"
	"trade_exec/internal/notify"
	"trade_exec/pkg/logger"
)

// Warmuper греет кэши до старта приёма сигналов: метаданные инструментов и
// первые тикеры. Первый сигнал тогда не платит латентность холодного REST.
type Warmuper struct {
	gw *gwsvc.Gateway
	n  notify.Notifier

	// ограничитель параллелизма, чтобы не упереться в weight-бюджет на старте
	sem chan struct{}
}

func NewWarmuper(gw *gwsvc.Gateway, n notify.Notifier) *Warmuper {
	return &Warmuper{
		gw:  gw,
		n:   n,
		sem: make(chan struct{}, 4),
	}
}

func (w *Warmuper) Warmup(ctx context.Context, instIDs []string) error {
	if len(instIDs) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, instID := range instIDs {
		instID := instID
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.sem <- struct{}{}
			defer func() { <-w.sem }()

			if _, err := w.gw.InstrumentMeta(ctx, instID); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("warmup meta %s: %w", instID, err)
				}
				mu.Unlock()
				return
			}
			if _, err := w.gw.Ticker(ctx, instID); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("warmup ticker %s: %w", instID, err)
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		// холодный кэш не повод не стартовать: первый сигнал сходит в REST сам
		logger.Warn("warmup finished with error: %v", firstErr)
		w.n.Sendf("⚠️ Warmup не полный: %v", firstErr)
		return firstErr
	}

	logger.Info("warmup finished: %d instruments", len(instIDs))
	return nil
}
