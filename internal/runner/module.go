package runner

import (
	"context"
	"time"

	"trade_exec/internal/models"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			NewHeatTracker,
			New, // *Runner
		),
		fx.Invoke(func(
			lc fx.Lifecycle,
			r *Runner,
			sigs chan models.Signal,
			brEvents chan models.BreakerEvent,
		) {
			runCtx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					go r.Run(runCtx, sigs)
					go r.PumpBreakerEvents(runCtx, brEvents)
					return nil
				},
				OnStop: func(ctx context.Context) error {
					// сперва дорабатываем in-flight, потом гасим лупы
					drainCtx, done := context.WithTimeout(ctx, 30*time.Second)
					defer done()
					err := r.Drain(drainCtx)
					cancel()
					return err
				},
			})
		}),
	)
}
