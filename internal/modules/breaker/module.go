package breaker

import (
	"trade_exec/internal/models"
	"trade_exec/internal/modules/breaker/service"
	"trade_exec/internal/modules/config"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("breaker",
		fx.Provide(
			func(cfg *config.Config) (*service.Registry, chan models.BreakerEvent) {
				events := make(chan models.BreakerEvent, 64)
				reg := service.NewRegistry(service.Defaults{
					FailureThreshold: cfg.Breaker.FailureThreshold,
					SuccessThreshold: cfg.Breaker.SuccessThreshold,
					OpenTimeout:      cfg.Breaker.OpenTimeout,
				}, events)
				return reg, events
			},
		),
	)
}
