package respcache

import (
	"trade_exec/internal/modules/config"
	"trade_exec/internal/modules/respcache/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("respcache",
		fx.Provide(
			func(cfg *config.Config) *service.Manager {
				return service.NewManager(cfg.Cache.MaxEntries)
			},
		),
	)
}
