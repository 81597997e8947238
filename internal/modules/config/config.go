package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	configFilePathENV = "CONFIG_FILE"
	okxAPIKeyENV      = "OKX_API_KEY"
	okxAPISecretENV   = "OKX_API_SECRET"
	okxPassphraseENV  = "OKX_API_PASSPHRASE"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"
)

// Config — всё, что ядру нужно знать на старте. Hot-reload не поддерживаем:
// читаем один раз, валидируем, дальше только чтение.
type Config struct {
	Service struct {
		Name       string `mapstructure:"name"`
		HealthAddr string `mapstructure:"health_addr"`
	} `mapstructure:"service"`

	Telegram struct {
		Token  string `mapstructure:"token"`
		ChatID int64  `mapstructure:"chat_id"`
	} `mapstructure:"telegram"`

	DB string `mapstructure:"db_dsn"` // пусто => журнал пишет в лог

	Jaeger struct {
		Enabled bool   `mapstructure:"enabled"`
		Host    string `mapstructure:"host"`
		Port    int    `mapstructure:"port"`
	} `mapstructure:"jaeger"`

	Exchange struct {
		BaseURL    string        `mapstructure:"base_url"`
		WSURL      string        `mapstructure:"ws_url"`
		APIKey     string        `mapstructure:"api_key"`
		APISecret  string        `mapstructure:"api_secret"`
		Passphrase string        `mapstructure:"passphrase"`
		Timeout    time.Duration `mapstructure:"timeout"`
	} `mapstructure:"exchange"`

	// Путь к yaml с именованными бюджетами токенов. Пусто => дефолты Binance-класса.
	BudgetsFile string `mapstructure:"budgets_file"`

	Breaker struct {
		FailureThreshold int           `mapstructure:"failure_threshold"`
		SuccessThreshold int           `mapstructure:"success_threshold"`
		OpenTimeout      time.Duration `mapstructure:"open_timeout"`
	} `mapstructure:"breaker"`

	Cache struct {
		MaxEntries int           `mapstructure:"max_entries"`
		TickerTTL  time.Duration `mapstructure:"ticker_ttl"`
		BalanceTTL time.Duration `mapstructure:"balance_ttl"`
		MetaTTL    time.Duration `mapstructure:"meta_ttl"`
	} `mapstructure:"cache"`

	Risk struct {
		// Сколько от депозита готовы потерять по СТОПУ на одну сделку, доля (0.01 => 1%).
		RiskPerTrade     float64 `mapstructure:"risk_per_trade"`
		MaxPortfolioHeat float64 `mapstructure:"max_portfolio_heat"`
		MinRiskReward    float64 `mapstructure:"min_risk_reward"`
		KellyCap         float64 `mapstructure:"kelly_cap"`
		KellyFraction    float64 `mapstructure:"kelly_fraction"` // quarter-Kelly по умолчанию
	} `mapstructure:"risk"`

	Retry struct {
		MaxAttempts int           `mapstructure:"max_attempts"`
		BackoffBase time.Duration `mapstructure:"backoff_base"`
		BackoffMax  time.Duration `mapstructure:"backoff_max"`
	} `mapstructure:"retry"`

	Stream struct {
		Enabled bool     `mapstructure:"enabled"`
		InstIDs []string `mapstructure:"inst_ids"`
	} `mapstructure:"stream"`
}

func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}
	v.SetConfigFile("configs/" + configFileName)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// конфиг-файл опционален: дефолты + ENV достаточно для запуска
		if _, statErr := os.Stat("configs/" + configFileName); statErr == nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// секреты только из окружения
	if key := os.Getenv(okxAPIKeyENV); key != "" {
		config.Exchange.APIKey = key
	}
	if secret := os.Getenv(okxAPISecretENV); secret != "" {
		config.Exchange.APISecret = secret
	}
	if passph := os.Getenv(okxPassphraseENV); passph != "" {
		config.Exchange.Passphrase = passph
	}
	if token := os.Getenv(tokenTelegramENV); token != "" {
		config.Telegram.Token = token
	}
	if dsn := os.Getenv(databaseDSN); dsn != "" {
		config.DB = dsn
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "trade_exec")
	v.SetDefault("service.health_addr", ":8080")

	v.SetDefault("jaeger.enabled", false)
	v.SetDefault("jaeger.host", "127.0.0.1")
	v.SetDefault("jaeger.port", 6831)

	v.SetDefault("exchange.base_url", "https://www.okx.com")
	v.SetDefault("exchange.ws_url", "wss://ws.okx.com:8443/ws/v5/public")
	v.SetDefault("exchange.timeout", "10s")

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.success_threshold", 1)
	v.SetDefault("breaker.open_timeout", "60s")

	v.SetDefault("cache.max_entries", 1000)
	v.SetDefault("cache.ticker_ttl", "1s")
	v.SetDefault("cache.balance_ttl", "5s")
	v.SetDefault("cache.meta_ttl", "10m")

	v.SetDefault("risk.risk_per_trade", 0.01)
	v.SetDefault("risk.max_portfolio_heat", 0.05)
	v.SetDefault("risk.min_risk_reward", 1.5)
	v.SetDefault("risk.kelly_cap", 0.25)
	v.SetDefault("risk.kelly_fraction", 0.25)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.backoff_base", "500ms")
	v.SetDefault("retry.backoff_max", "8s")

	v.SetDefault("stream.enabled", false)
}

func (c *Config) validate() error {
	if c.Risk.RiskPerTrade <= 0 || c.Risk.RiskPerTrade > 0.1 {
		return fmt.Errorf("risk.risk_per_trade вне диапазона (0, 0.1]: %v", c.Risk.RiskPerTrade)
	}
	if c.Risk.MaxPortfolioHeat <= 0 || c.Risk.MaxPortfolioHeat > 1 {
		return fmt.Errorf("risk.max_portfolio_heat вне диапазона (0, 1]: %v", c.Risk.MaxPortfolioHeat)
	}
	if c.Risk.MinRiskReward < 0 {
		return fmt.Errorf("risk.min_risk_reward < 0")
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failure_threshold < 1")
	}
	if c.Breaker.SuccessThreshold < 1 {
		return fmt.Errorf("breaker.success_threshold < 1")
	}
	if c.Breaker.OpenTimeout <= 0 {
		return fmt.Errorf("breaker.open_timeout <= 0")
	}
	if c.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache.max_entries < 1")
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts < 0")
	}
	if c.Retry.BackoffBase <= 0 {
		return fmt.Errorf("retry.backoff_base <= 0")
	}
	return nil
}
