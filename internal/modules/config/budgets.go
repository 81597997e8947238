package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// BudgetSpec — один именованный бюджет токенов.
type BudgetSpec struct {
	Capacity   float64 `yaml:"capacity"`
	RefillRate float64 `yaml:"refill_rate"` // токенов в секунду
}

// DefaultBudgets — продакшен-лимиты Binance-класса: консервативные
// orders/sec, weight/min и дневной потолок ордеров.
func DefaultBudgets() map[string]BudgetSpec {
	return map[string]BudgetSpec{
		"orders_per_second": {Capacity: 50, RefillRate: 50},
		"weight_per_minute": {Capacity: 1200, RefillRate: 20},
		"orders_per_day":    {Capacity: 200000, RefillRate: 2.31},
	}
}

// LoadBudgets читает бюджеты из yaml. Пустой путь => дефолты.
func LoadBudgets(path string) (map[string]BudgetSpec, error) {
	if path == "" {
		return DefaultBudgets(), nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open budgets file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	budgets := map[string]BudgetSpec{}
	if err := yaml.NewDecoder(file).Decode(&budgets); err != nil {
		return nil, fmt.Errorf("decode budgets file: %w", err)
	}

	for name, b := range budgets {
		if b.Capacity <= 0 || b.RefillRate <= 0 {
			return nil, fmt.Errorf("бюджет %q: capacity и refill_rate должны быть > 0", name)
		}
	}
	if len(budgets) == 0 {
		return DefaultBudgets(), nil
	}
	return budgets, nil
}
