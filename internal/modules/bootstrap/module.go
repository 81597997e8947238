package bootstrap

import (
	"context"

	"go.uber.org/fx"

	"trade_exec/internal/modules/bootstrap/service"
	"trade_exec/internal/modules/config"
	gwsvc "trade_exec/internal/modules/gateway/service"
	"trade_exec/internal/notify"
)

func Module() fx.Option {
	return fx.Module("bootstrap",
		fx.Provide(
			func(gw *gwsvc.Gateway, n notify.Notifier) *service.Warmuper {
				return service.NewWarmuper(gw, n)
			},
		),
		fx.Invoke(
			func(lc fx.Lifecycle, ctx context.Context, cfg *config.Config, w *service.Warmuper) {
				lc.Append(fx.Hook{
					OnStart: func(_ context.Context) error {
						// в фоне: прогрев не должен держать старт приложения
						go func() {
							_ = w.Warmup(ctx, cfg.Stream.InstIDs)
						}()
						return nil
					},
				})
			},
		),
	)
}
