package gateway

import (
	brsvc "trade_exec/internal/modules/breaker/service"
	"trade_exec/internal/modules/config"
	"trade_exec/internal/modules/gateway/service"
	rlsvc "trade_exec/internal/modules/ratelimit/service"
	cachesvc "trade_exec/internal/modules/respcache/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("gateway",
		fx.Provide(
			func(cfg *config.Config) service.Connector {
				return service.NewOKXClient(service.OKXConfig{
					BaseURL:    cfg.Exchange.BaseURL,
					APIKey:     cfg.Exchange.APIKey,
					APISecret:  cfg.Exchange.APISecret,
					Passphrase: cfg.Exchange.Passphrase,
					Timeout:    cfg.Exchange.Timeout,
				})
			},
			func(
				cfg *config.Config,
				conn service.Connector,
				limiter *rlsvc.Limiter,
				breakers *brsvc.Registry,
				caches *cachesvc.Manager,
			) *service.Gateway {
				return service.NewGateway(conn, limiter, breakers, caches,
					service.RetryPolicy{
						MaxAttempts: cfg.Retry.MaxAttempts,
						BackoffBase: cfg.Retry.BackoffBase,
						BackoffMax:  cfg.Retry.BackoffMax,
					},
					service.TTLs{
						Ticker:  cfg.Cache.TickerTTL,
						Balance: cfg.Cache.BalanceTTL,
						Meta:    cfg.Cache.MetaTTL,
					},
				)
			},
		),
	)
}
