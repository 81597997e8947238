package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus"

	"trade_exec/internal/models"
	brsvc "trade_exec/internal/modules/breaker/service"
	rlsvc "trade_exec/internal/modules/ratelimit/service"
	cachesvc "trade_exec/internal/modules/respcache/service"
	"trade_exec/pkg/logger"
)

var (
	metricCallsAttempted  = prometheus.NewCounter(prometheus.CounterOpts{Name: "bot_gateway_calls_attempted_total", Help: "Gateway calls the bot tried to make"})
	metricCallsOK         = prometheus.NewCounter(prometheus.CounterOpts{Name: "bot_gateway_calls_ok_total", Help: "Gateway calls that succeeded"})
	metricCallsSuppressed = prometheus.NewCounter(prometheus.CounterOpts{Name: "bot_gateway_calls_suppressed_total", Help: "Calls blocked by admission (rate limit / breaker)"})
	metricCallsFailed     = prometheus.NewCounter(prometheus.CounterOpts{Name: "bot_gateway_calls_failed_total", Help: "Calls that failed after retries"})
	metricCacheHits       = prometheus.NewCounter(prometheus.CounterOpts{Name: "bot_gateway_cache_hits_total", Help: "Calls served from the response cache"})
)

func init() {
	prometheus.MustRegister(
		metricCallsAttempted, metricCallsOK, metricCallsSuppressed,
		metricCallsFailed, metricCacheHits,
	)
}

// RetryPolicy — сколько и как ретраим транзиентные сбои.
type RetryPolicy struct {
	MaxAttempts int // дополнительных попыток сверх первой
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// TTLs — сроки жизни кэшируемых чтений.
type TTLs struct {
	Ticker  time.Duration
	Balance time.Duration
	Meta    time.Duration
}

// имена зависимостей для брейкеров: рынок, счёт и торговля падают независимо
const (
	depMarket  = "okx_market"
	depAccount = "okx_account"
	depTrade   = "okx_trade"
)

// Gateway — единственная точка сетевого I/O. Каждый вызов проходит цепочку:
// кэш -> брейкер -> rate limiter -> сеть -> ретраи с backoff -> учёт исхода.
type Gateway struct {
	conn     Connector
	limiter  *rlsvc.Limiter
	breakers *brsvc.Registry
	caches   *cachesvc.Manager
	retry    RetryPolicy
	ttl      TTLs

	sleep func(ctx context.Context, d time.Duration) error
}

func NewGateway(
	conn Connector,
	limiter *rlsvc.Limiter,
	breakers *brsvc.Registry,
	caches *cachesvc.Manager,
	retry RetryPolicy,
	ttl TTLs,
) *Gateway {
	if retry.BackoffBase <= 0 {
		retry.BackoffBase = 500 * time.Millisecond
	}
	if retry.BackoffMax <= 0 {
		retry.BackoffMax = 8 * time.Second
	}
	return &Gateway{
		conn:     conn,
		limiter:  limiter,
		breakers: breakers,
		caches:   caches,
		retry:    retry,
		ttl:      ttl,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// call — описание одного защищённого вызова.
type call struct {
	op         string
	dependency string
	demands    []rlsvc.Demand

	cacheName string
	cacheKey  string
	cacheTTL  time.Duration

	idempotencyKey string

	do func(ctx context.Context) (any, error)
	// reconcile — идемпотентная сверка судьбы записи после неоднозначного
	// таймаута. nil у чтений и идемпотентных операций.
	reconcile func(ctx context.Context) (any, error)
}

func (c call) cacheable() bool { return c.cacheName != "" }

// invoke гоняет вызов через всю цепочку защит.
func (g *Gateway) invoke(ctx context.Context, c call) (any, error) {
	// (a) кэш-хит обходит и лимитер, и брейкер: сети не будет
	if c.cacheable() {
		if v, ok := g.caches.Cache(c.cacheName).Get(c.cacheKey); ok {
			metricCacheHits.Inc()
			return v, nil
		}
	}

	span, ctx := opentracing.StartSpanFromContext(ctx, "gateway."+c.op)
	defer span.Finish()
	span.SetTag("dependency", c.dependency)

	metricCallsAttempted.Inc()
	br := g.breakers.Get(c.dependency)

	var last error
	for attempt := 0; attempt <= g.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := g.sleep(ctx, g.backoff(attempt)); err != nil {
				return nil, err
			}
		}

		// (b) брейкер: перед каждой попыткой, fail-fast без сети
		if !br.Allow() {
			metricCallsSuppressed.Inc()
			return nil, fmt.Errorf("%s: %w", c.dependency, ErrCircuitOpen)
		}

		// (c) бюджеты токенов: всё-или-ничего. Сети не будет — отдаём
		// брейкеру слот пробы, иначе HALF_OPEN останется без исхода
		if ok, budget := g.limiter.TryConsumeAll(c.demands); !ok {
			br.ReleaseProbe()
			metricCallsSuppressed.Inc()
			return nil, fmt.Errorf("budget %s: %w", budget, ErrRateLimited)
		}

		// (d) сеть
		start := time.Now()
		v, err := c.do(ctx)
		latency := time.Since(start)

		if err == nil {
			br.RecordSuccess()
			metricCallsOK.Inc()
			if c.cacheable() {
				g.caches.Cache(c.cacheName).Put(c.cacheKey, v, c.cacheTTL)
			}
			return v, nil
		}

		// исход — в учёт брейкера; таймаут тоже считается провалом
		br.RecordFailure(err.Error())
		g.logOutcome(c, err, latency)
		last = err

		// терминальные ошибки не едят бюджет ретраев
		if !retryable(err) {
			metricCallsFailed.Inc()
			return nil, err
		}

		// (e) неоднозначный исход записи: прежде чем слать повторно,
		// сверяем по idempotency key, не применился ли ордер
		if ambiguous(err) && c.reconcile != nil {
			v, rerr := c.reconcile(ctx)
			if rerr == nil {
				// ордер уже на бирже — исход успешный
				br.RecordSuccess()
				metricCallsOK.Inc()
				return v, nil
			}
			var remote *RemoteError
			if !errors.As(rerr, &remote) {
				// сверка сама не смогла — повторять запись нельзя
				metricCallsFailed.Inc()
				return nil, fmt.Errorf("reconcile after ambiguous outcome: %w", rerr)
			}
			// ордера на бирже нет — повтор безопасен
		}
	}

	metricCallsFailed.Inc()
	return nil, &RetryExhaustedError{Attempts: g.retry.MaxAttempts + 1, Last: last}
}

// backoff — экспонента base*2^(attempt-1) с потолком.
func (g *Gateway) backoff(attempt int) time.Duration {
	d := g.retry.BackoffBase << (attempt - 1)
	if d > g.retry.BackoffMax || d <= 0 {
		d = g.retry.BackoffMax
	}
	return d
}

func (g *Gateway) logOutcome(c call, err error, latency time.Duration) {
	out := models.CallOutcome{
		Dependency:     c.dependency,
		Success:        false,
		ErrKind:        fmt.Sprintf("%T", err),
		Latency:        latency,
		Cacheable:      c.cacheable(),
		IdempotencyKey: c.idempotencyKey,
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		out.HTTPStatus = remote.Status
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		out.HTTPStatus = transient.Status
	}
	logger.Warn("gateway %s: dep=%s status=%d latency=%s err=%v",
		c.op, out.Dependency, out.HTTPStatus, out.Latency, err)
}

// --- Типизированные операции поверх invoke ---

// Ticker — последняя цена, кэшируется на короткий TTL.
func (g *Gateway) Ticker(ctx context.Context, instID string) (models.Ticker, error) {
	v, err := g.invoke(ctx, call{
		op:         "ticker",
		dependency: depMarket,
		demands:    []rlsvc.Demand{{Budget: "weight_per_minute", Units: 1}},
		cacheName:  "tickers",
		cacheKey:   "ticker:" + instID,
		cacheTTL:   g.ttl.Ticker,
		do: func(ctx context.Context) (any, error) {
			return g.conn.Ticker(ctx, instID)
		},
	})
	if err != nil {
		return models.Ticker{}, err
	}
	return v.(models.Ticker), nil
}

// Balance — equity; кэш с коротким TTL, чтобы сайзинг не дёргал счёт на каждый тик.
func (g *Gateway) Balance(ctx context.Context) (float64, error) {
	v, err := g.invoke(ctx, call{
		op:         "balance",
		dependency: depAccount,
		demands:    []rlsvc.Demand{{Budget: "weight_per_minute", Units: 10}},
		cacheName:  "account",
		cacheKey:   "balance:USDT",
		cacheTTL:   g.ttl.Balance,
		do: func(ctx context.Context) (any, error) {
			return g.conn.Balance(ctx)
		},
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

func (g *Gateway) OpenPositions(ctx context.Context) ([]models.OpenPosition, error) {
	v, err := g.invoke(ctx, call{
		op:         "positions",
		dependency: depAccount,
		demands:    []rlsvc.Demand{{Budget: "weight_per_minute", Units: 5}},
		cacheName:  "account",
		cacheKey:   "positions",
		cacheTTL:   g.ttl.Balance,
		do: func(ctx context.Context) (any, error) {
			return g.conn.OpenPositions(ctx)
		},
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.OpenPosition), nil
}

// InstrumentMeta — лот/минимальный размер; меняется редко, TTL длинный.
func (g *Gateway) InstrumentMeta(ctx context.Context, instID string) (models.InstrumentMeta, error) {
	v, err := g.invoke(ctx, call{
		op:         "instrument_meta",
		dependency: depMarket,
		demands:    []rlsvc.Demand{{Budget: "weight_per_minute", Units: 1}},
		cacheName:  "meta",
		cacheKey:   "meta:" + instID,
		cacheTTL:   g.ttl.Meta,
		do: func(ctx context.Context) (any, error) {
			return g.conn.InstrumentMeta(ctx, instID)
		},
	})
	if err != nil {
		return models.InstrumentMeta{}, err
	}
	return v.(models.InstrumentMeta), nil
}

// PlaceMarketOrder — запись: не кэшируется, idempotency key обязателен,
// при таймауте судьба ордера сверяется до любого повтора.
func (g *Gateway) PlaceMarketOrder(ctx context.Context, ord models.OrderRequest) (models.OrderAck, error) {
	if ord.ClientOrderID == "" {
		ord.ClientOrderID = newClientOrderID()
	}

	v, err := g.invoke(ctx, call{
		op:             "place_order",
		dependency:     depTrade,
		idempotencyKey: ord.ClientOrderID,
		demands: []rlsvc.Demand{
			{Budget: "orders_per_second", Units: 1},
			{Budget: "weight_per_minute", Units: 1},
			{Budget: "orders_per_day", Units: 1},
		},
		do: func(ctx context.Context) (any, error) {
			return g.conn.PlaceMarket(ctx, ord)
		},
		reconcile: func(ctx context.Context) (any, error) {
			return g.conn.OrderStatus(ctx, ord.InstID, ord.ClientOrderID)
		},
	})
	if err != nil {
		return models.OrderAck{}, err
	}
	return v.(models.OrderAck), nil
}

// CancelOrder — отмена идемпотентна сама по себе, сверка не нужна.
func (g *Gateway) CancelOrder(ctx context.Context, instID, orderID string) error {
	_, err := g.invoke(ctx, call{
		op:         "cancel_order",
		dependency: depTrade,
		demands: []rlsvc.Demand{
			{Budget: "orders_per_second", Units: 1},
			{Budget: "weight_per_minute", Units: 1},
		},
		do: func(ctx context.Context) (any, error) {
			return nil, g.conn.CancelOrder(ctx, instID, orderID)
		},
	})
	return err
}

func (g *Gateway) OrderStatus(ctx context.Context, instID, clientOrderID string) (models.OrderAck, error) {
	v, err := g.invoke(ctx, call{
		op:         "order_status",
		dependency: depTrade,
		demands:    []rlsvc.Demand{{Budget: "weight_per_minute", Units: 2}},
		do: func(ctx context.Context) (any, error) {
			return g.conn.OrderStatus(ctx, instID, clientOrderID)
		},
	})
	if err != nil {
		return models.OrderAck{}, err
	}
	return v.(models.OrderAck), nil
}

// idempotency key ордера; OKX ограничивает clOrdId 32 алфанумерик-символами
func newClientOrderID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
