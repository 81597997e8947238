package main

import (
	"context"
	"log"

	"go.uber.org/fx"

	"trade_exec/internal/models"
	"trade_exec/internal/modules/bootstrap"
	"trade_exec/internal/modules/breaker"
	"trade_exec/internal/modules/config"
	"trade_exec/internal/modules/gateway"
	"trade_exec/internal/modules/health"
	healthsvc "trade_exec/internal/modules/health/service"
	"trade_exec/internal/modules/journal"
	journalsvc "trade_exec/internal/modules/journal/service"
	"trade_exec/internal/modules/ratelimit"
	"trade_exec/internal/modules/respcache"
	"trade_exec/internal/modules/sizing"
	"trade_exec/internal/modules/stream"
	"trade_exec/internal/notify"
	"trade_exec/internal/runner"
	"trade_exec/pkg/logger"
	"trade_exec/pkg/tracing"
)

func main() {
	if err := logger.Init(); err != nil {
		log.Fatal(err)
	}

	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
			// канал сигналов: сюда пишет внешний сигнальный слой
			func() chan models.Signal {
				return make(chan models.Signal, 64)
			},
			// Notifier: если TELEGRAM_* нет — используем stdout
			func(cfg *config.Config) notify.Notifier {
				if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
					if tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID); err == nil {
						return tg
					}
				}
				return notify.NewStdout()
			},
			// подписчики событий: лог всегда, алерты всегда, журнал — если есть база
			func(n notify.Notifier, j *journalsvc.Journal) runner.Sink {
				sinks := runner.MultiSink{runner.LogSink{}, notify.NewAlertSink(n)}
				if j != nil {
					sinks = append(sinks, j)
				}
				return sinks
			},
		),
		config.Module(),
		ratelimit.Module(),
		breaker.Module(),
		respcache.Module(),
		sizing.Module(),
		gateway.Module(),
		journal.Module(),
		bootstrap.Module(),
		stream.Module(),
		health.Module(),
		runner.Module(),
		fx.Invoke(
			func(lc fx.Lifecycle, cfg *config.Config, state *healthsvc.State) {
				logger.SetServiceName(cfg.Service.Name)
				tracing.SetServiceName(cfg.Service.Name)

				if cfg.Jaeger.Enabled {
					_, closeTracer, err := tracing.InitTracer(tracing.Config{
						Host: cfg.Jaeger.Host,
						Port: cfg.Jaeger.Port,
					})
					if err != nil {
						logger.Error("init tracer: %v", err)
					} else {
						lc.Append(fx.Hook{OnStop: func(context.Context) error {
							closeTracer()
							return nil
						}})
					}
				}

				lc.Append(fx.Hook{OnStart: func(context.Context) error {
					state.SetReady(true)
					return nil
				}})
			},
		),
	)
	app.Run()
}
