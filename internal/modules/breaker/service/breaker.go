package service

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"trade_exec/internal/models"
	"trade_exec/pkg/logger"
)

// State — состояние брейкера по одной зависимости.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	}
	return "UNKNOWN"
}

var metricBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "bot_breaker_state",
	Help: "0=closed, 1=open, 2=half_open",
}, []string{"dependency"})

func init() {
	prometheus.MustRegister(metricBreakerState)
}

const recentOutcomesCap = 10

type outcome struct {
	ok bool
	ts time.Time
}

// Record — брейкер одной зависимости. Все переходы — под mu,
// поэтому для одного имени порядок переходов линеаризуем.
type Record struct {
	mu sync.Mutex

	name             string
	state            State
	consecFails      int
	consecSuccesses  int
	lastStateChange  time.Time
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration

	// в HALF_OPEN наружу выпускаем ровно одну пробу за раз
	probeInFlight bool

	recent []outcome

	now    func() time.Time
	events chan<- models.BreakerEvent
}

// Allow — спрашиваем перед вызовом. Не блокирует.
// Единственное место, где OPEN переходит в HALF_OPEN.
func (r *Record) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case StateClosed:
		return true

	case StateOpen:
		if r.now().Sub(r.lastStateChange) < r.openTimeout {
			return false
		}
		r.transitionLocked(StateHalfOpen, "open timeout elapsed")
		r.probeInFlight = true
		return true

	case StateHalfOpen:
		if r.probeInFlight {
			return false
		}
		r.probeInFlight = true
		return true
	}
	return false
}

// ReleaseProbe возвращает слот пробы, когда вызов отменили до сети
// (например, отказ лимитера). Без этого HALF_OPEN заклинит навсегда:
// probeInFlight останется взведённым, а исхода, который его сбросит, не будет.
func (r *Record) ReleaseProbe() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probeInFlight = false
}

// RecordSuccess — исход вызова «успех».
func (r *Record) RecordSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pushOutcomeLocked(true)
	r.consecFails = 0

	if r.state == StateHalfOpen {
		r.probeInFlight = false
		r.consecSuccesses++
		if r.consecSuccesses >= r.successThreshold {
			r.transitionLocked(StateClosed, "probe succeeded")
		}
	}
}

// RecordFailure — исход вызова «провал». В CLOSED копим consecutive failures,
// в HALF_OPEN проба провалена — обратно в OPEN со сбросом таймера.
func (r *Record) RecordFailure(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pushOutcomeLocked(false)
	r.consecSuccesses = 0

	switch r.state {
	case StateClosed:
		r.consecFails++
		if r.consecFails >= r.failureThreshold {
			r.transitionLocked(StateOpen, reason)
		}
	case StateHalfOpen:
		r.probeInFlight = false
		r.transitionLocked(StateOpen, "probe failed: "+reason)
	case StateOpen:
		// вызов стартовал до открытия — просто фиксируем
	}
}

func (r *Record) pushOutcomeLocked(ok bool) {
	r.recent = append(r.recent, outcome{ok: ok, ts: r.now()})
	if len(r.recent) > recentOutcomesCap {
		r.recent = r.recent[1:]
	}
}

func (r *Record) transitionLocked(to State, reason string) {
	from := r.state
	if from == to {
		return
	}
	r.state = to
	r.lastStateChange = r.now()
	if to == StateClosed {
		r.consecFails = 0
		r.consecSuccesses = 0
	}

	switch to {
	case StateClosed:
		metricBreakerState.WithLabelValues(r.name).Set(0)
	case StateOpen:
		metricBreakerState.WithLabelValues(r.name).Set(1)
	case StateHalfOpen:
		metricBreakerState.WithLabelValues(r.name).Set(2)
	}

	logger.Warn("breaker %s: %s -> %s (%s)", r.name, from, to, reason)

	if r.events != nil {
		ev := models.BreakerEvent{
			Ts:     r.lastStateChange,
			Name:   r.name,
			From:   from.String(),
			To:     to.String(),
			Reason: reason,
		}
		select {
		case r.events <- ev:
		default:
			// подписчик не успевает — событие наблюдаемости, не роняем вызов
		}
	}
}

// Snapshot — срез для /healthz.
type Snapshot struct {
	State           string    `json:"state"`
	ConsecFailures  int       `json:"consecutive_failures"`
	LastStateChange time.Time `json:"last_state_change"`
}

func (r *Record) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		State:           r.state.String(),
		ConsecFailures:  r.consecFails,
		LastStateChange: r.lastStateChange,
	}
}

// Defaults — параметры для лениво создаваемых брейкеров.
type Defaults struct {
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
}

// Registry — процессный реестр брейкеров по имени зависимости.
// Живёт в composition root и передаётся по ссылке: никаких пакетных синглтонов.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Record
	defaults Defaults
	events   chan<- models.BreakerEvent
	now      func() time.Time
}

func NewRegistry(d Defaults, events chan<- models.BreakerEvent) *Registry {
	return NewRegistryAt(d, events, time.Now)
}

func NewRegistryAt(d Defaults, events chan<- models.BreakerEvent, now func() time.Time) *Registry {
	if d.FailureThreshold < 1 {
		d.FailureThreshold = 5
	}
	if d.SuccessThreshold < 1 {
		d.SuccessThreshold = 1
	}
	if d.OpenTimeout <= 0 {
		d.OpenTimeout = 60 * time.Second
	}
	return &Registry{
		breakers: make(map[string]*Record),
		defaults: d,
		events:   events,
		now:      now,
	}
}

// Get — брейкер по имени, создаём лениво при первом обращении.
// Разные зависимости падают независимо (bulkhead).
func (g *Registry) Get(name string) *Record {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.breakers[name]; ok {
		return r
	}
	r := &Record{
		name:             name,
		state:            StateClosed,
		lastStateChange:  g.now(),
		failureThreshold: g.defaults.FailureThreshold,
		successThreshold: g.defaults.SuccessThreshold,
		openTimeout:      g.defaults.OpenTimeout,
		now:              g.now,
		events:           g.events,
	}
	metricBreakerState.WithLabelValues(name).Set(0)
	g.breakers[name] = r
	return r
}

// Snapshots — срез по всем брейкерам.
func (g *Registry) Snapshots() map[string]Snapshot {
	g.mu.Lock()
	names := make([]*Record, 0, len(g.breakers))
	keys := make([]string, 0, len(g.breakers))
	for k, r := range g.breakers {
		keys = append(keys, k)
		names = append(names, r)
	}
	g.mu.Unlock()

	out := make(map[string]Snapshot, len(names))
	for i, r := range names {
		out[keys[i]] = r.Snapshot()
	}
	return out
}
