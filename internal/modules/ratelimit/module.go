package ratelimit

import (
	"trade_exec/internal/modules/config"
	"trade_exec/internal/modules/ratelimit/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("ratelimit",
		fx.Provide(
			func(cfg *config.Config) (*service.Limiter, error) {
				budgets, err := config.LoadBudgets(cfg.BudgetsFile)
				if err != nil {
					return nil, err
				}
				specs := make(map[string]service.BudgetSpec, len(budgets))
				for name, b := range budgets {
					specs[name] = service.BudgetSpec{Capacity: b.Capacity, RefillRate: b.RefillRate}
				}
				return service.NewLimiter(specs), nil
			},
		),
	)
}
