package stream

import (
	"context"

	"go.uber.org/fx"

	"trade_exec/internal/modules/config"
	healthsvc "trade_exec/internal/modules/health/service"
	cachesvc "trade_exec/internal/modules/respcache/service"
	"trade_exec/internal/modules/stream/service"
)

func Module() fx.Option {
	return fx.Module("stream",
		fx.Provide(
			func(cfg *config.Config, caches *cachesvc.Manager, state *healthsvc.State) *service.Client {
				return service.NewClient(cfg.Exchange.WSURL, cfg.Stream.InstIDs, caches, state, cfg.Cache.TickerTTL)
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, c *service.Client) {
			if !cfg.Stream.Enabled {
				return
			}
			runCtx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					go c.Run(runCtx)
					return nil
				},
				OnStop: func(_ context.Context) error {
					cancel()
					return nil
				},
			})
		}),
	)
}
