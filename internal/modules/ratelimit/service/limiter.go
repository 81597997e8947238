package service

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// BudgetSpec — параметры одного именованного бюджета.
type BudgetSpec struct {
	Capacity   float64
	RefillRate float64 // токенов в секунду
}

// Demand — сколько токенов съедает вызов из конкретного бюджета.
type Demand struct {
	Budget string
	Units  float64
}

// bucket — классический token bucket. Инвариант: 0 <= tokens <= capacity.
// refill-then-consume — одна критическая секция на бюджет.
type bucket struct {
	mu         sync.Mutex
	capacity   float64
	refillRate float64
	tokens     float64
	lastRefill time.Time
}

func (b *bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = min(b.capacity, b.tokens+elapsed*b.refillRate)
	b.lastRefill = now
}

// Limiter — набор независимых бюджетов. Никогда не блокирует:
// отказ — это сигнал «попробуй позже», backoff на совести вызывающего.
type Limiter struct {
	buckets map[string]*bucket
	now     func() time.Time

	totalRequests atomic.Int64
	totalBlocked  atomic.Int64
}

func NewLimiter(specs map[string]BudgetSpec) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket, len(specs)),
		now:     time.Now,
	}
	for name, s := range specs {
		l.buckets[name] = &bucket{
			capacity:   s.Capacity,
			refillRate: s.RefillRate,
			tokens:     s.Capacity,
			lastRefill: l.nowSafe(),
		}
	}
	return l
}

// NewLimiterAt — как NewLimiter, но с инжектированными часами (для тестов).
func NewLimiterAt(specs map[string]BudgetSpec, now func() time.Time) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket, len(specs)),
		now:     now,
	}
	for name, s := range specs {
		l.buckets[name] = &bucket{
			capacity:   s.Capacity,
			refillRate: s.RefillRate,
			tokens:     s.Capacity,
			lastRefill: now(),
		}
	}
	return l
}

func (l *Limiter) nowSafe() time.Time {
	if l.now != nil {
		return l.now()
	}
	return time.Now()
}

// TryConsume — атомарная попытка списать units из одного бюджета.
// При отказе токены не трогаем.
func (l *Limiter) TryConsume(budget string, units float64) bool {
	ok, _ := l.TryConsumeAll([]Demand{{Budget: budget, Units: units}})
	return ok
}

// TryConsumeAll — all-or-nothing по нескольким бюджетам: либо списываем
// из всех, либо ни из одного. Блокировки берём в отсортированном порядке,
// чтобы два конкурента не встали в deadlock.
func (l *Limiter) TryConsumeAll(demands []Demand) (bool, string) {
	l.totalRequests.Add(1)

	if len(demands) == 0 {
		return true, ""
	}

	// повторы одного бюджета схлопываем заранее: второй Lock того же
	// мьютекса — самодедлок
	merged := make(map[string]float64, len(demands))
	for _, d := range demands {
		merged[d.Budget] += d.Units
	}
	sorted := make([]Demand, 0, len(merged))
	for budget, units := range merged {
		sorted = append(sorted, Demand{Budget: budget, Units: units})
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Budget < sorted[j].Budget })

	type claim struct {
		b     *bucket
		units float64
	}
	claims := make([]claim, 0, len(sorted))
	unlock := func() {
		for i := len(claims) - 1; i >= 0; i-- {
			claims[i].b.mu.Unlock()
		}
	}

	now := l.nowSafe()

	for _, d := range sorted {
		b, ok := l.buckets[d.Budget]
		if !ok {
			// бюджет не сконфигурирован => ограничения нет
			continue
		}
		b.mu.Lock()
		claims = append(claims, claim{b: b, units: d.Units})
		b.refillLocked(now)
		if b.tokens < d.Units {
			unlock()
			l.totalBlocked.Add(1)
			return false, d.Budget
		}
	}

	// все бюджеты пропустили — списываем под теми же локами
	for _, cl := range claims {
		cl.b.tokens -= cl.units
	}
	unlock()
	return true, ""
}

// Peek — текущее число токенов с учётом refill, без списания.
func (l *Limiter) Peek(budget string) (float64, error) {
	b, ok := l.buckets[budget]
	if !ok {
		return 0, fmt.Errorf("неизвестный бюджет %q", budget)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(l.nowSafe())
	return b.tokens, nil
}

// BudgetStatus — срез по бюджету для /healthz.
type BudgetStatus struct {
	Available   float64 `json:"available"`
	Capacity    float64 `json:"capacity"`
	Utilization float64 `json:"utilization"` // в процентах
}

// Status — срез по всем бюджетам + счётчики отказов.
func (l *Limiter) Status() (map[string]BudgetStatus, int64, int64) {
	out := make(map[string]BudgetStatus, len(l.buckets))
	now := l.nowSafe()
	for name, b := range l.buckets {
		b.mu.Lock()
		b.refillLocked(now)
		out[name] = BudgetStatus{
			Available:   b.tokens,
			Capacity:    b.capacity,
			Utilization: (1 - b.tokens/b.capacity) * 100,
		}
		b.mu.Unlock()
	}
	return out, l.totalRequests.Load(), l.totalBlocked.Load()
}
