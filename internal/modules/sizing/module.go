package sizing

import (
	"trade_exec/internal/modules/config"
	"trade_exec/internal/modules/sizing/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("sizing",
		fx.Provide(
			func(cfg *config.Config) *service.Sizer {
				return service.NewSizer(service.Params{
					RiskPerTrade:     cfg.Risk.RiskPerTrade,
					MaxPortfolioHeat: cfg.Risk.MaxPortfolioHeat,
					MinRiskReward:    cfg.Risk.MinRiskReward,
					KellyCap:         cfg.Risk.KellyCap,
					KellyFraction:    cfg.Risk.KellyFraction,
				})
			},
		),
	)
}
