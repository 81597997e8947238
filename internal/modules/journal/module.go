package journal

import (
	"context"

	"go.uber.org/fx"

	"trade_exec/internal/modules/config"
	"trade_exec/internal/modules/journal/service"
	"trade_exec/pkg/db"
)

// Module поднимает журнал, только если задан DATABASE_DSN.
// Без базы события остаются в логе (LogSink в composition root).
func Module() fx.Option {
	return fx.Module("journal",
		fx.Provide(
			func(lc fx.Lifecycle, ctx context.Context, cfg *config.Config) (*service.Journal, error) {
				if cfg.DB == "" {
					return nil, nil
				}
				pool, err := db.NewPool(ctx, db.PoolConfig{DSN: cfg.DB})
				if err != nil {
					return nil, err
				}
				tx := db.NewPgTxManager(pool)
				lc.Append(fx.Hook{
					OnStop: func(_ context.Context) error {
						tx.Close()
						return nil
					},
				})

				j := service.New(tx)
				if err := j.EnsureSchema(ctx); err != nil {
					return nil, err
				}
				return j, nil
			},
		),
	)
}
