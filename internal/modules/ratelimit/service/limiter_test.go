package service

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClock(start time.Time) (func() time.Time, func(d time.Duration)) {
	var mu sync.Mutex
	cur := start
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return cur
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(d)
	}
	return now, advance
}

func TestLimiterBurstThenReject(t *testing.T) {
	now, advance := newClock(time.Unix(1000, 0))
	l := NewLimiterAt(map[string]BudgetSpec{
		"orders_per_second": {Capacity: 10, RefillRate: 1},
	}, now)

	for i := 0; i < 10; i++ {
		assert.True(t, l.TryConsume("orders_per_second", 1), "попытка %d", i)
	}
	assert.False(t, l.TryConsume("orders_per_second", 1))

	// через секунду накапает ровно один токен
	advance(time.Second)
	assert.True(t, l.TryConsume("orders_per_second", 1))
	assert.False(t, l.TryConsume("orders_per_second", 1))
}

func TestLimiterRefillCappedAtCapacity(t *testing.T) {
	now, advance := newClock(time.Unix(1000, 0))
	l := NewLimiterAt(map[string]BudgetSpec{
		"weight_per_minute": {Capacity: 5, RefillRate: 100},
	}, now)

	advance(time.Hour)
	tokens, err := l.Peek("weight_per_minute")
	require.NoError(t, err)
	assert.Equal(t, 5.0, tokens)
}

func TestLimiterAllOrNothing(t *testing.T) {
	now, _ := newClock(time.Unix(1000, 0))
	l := NewLimiterAt(map[string]BudgetSpec{
		"orders_per_second": {Capacity: 10, RefillRate: 1},
		"weight_per_minute": {Capacity: 2, RefillRate: 1},
	}, now)

	ok, budget := l.TryConsumeAll([]Demand{
		{Budget: "orders_per_second", Units: 1},
		{Budget: "weight_per_minute", Units: 5}, // не хватает
	})
	assert.False(t, ok)
	assert.Equal(t, "weight_per_minute", budget)

	// отказ не должен списать ни одного токена ни из одного бюджета
	tokens, err := l.Peek("orders_per_second")
	require.NoError(t, err)
	assert.Equal(t, 10.0, tokens)
	tokens, err = l.Peek("weight_per_minute")
	require.NoError(t, err)
	assert.Equal(t, 2.0, tokens)

	ok, _ = l.TryConsumeAll([]Demand{
		{Budget: "orders_per_second", Units: 1},
		{Budget: "weight_per_minute", Units: 2},
	})
	assert.True(t, ok)
	tokens, _ = l.Peek("orders_per_second")
	assert.Equal(t, 9.0, tokens)
	tokens, _ = l.Peek("weight_per_minute")
	assert.Equal(t, 0.0, tokens)
}

func TestLimiterDuplicateBudgetDemandsMerged(t *testing.T) {
	now, _ := newClock(time.Unix(1000, 0))
	l := NewLimiterAt(map[string]BudgetSpec{
		"weight_per_minute": {Capacity: 10, RefillRate: 0.0001},
	}, now)

	// два требования к одному бюджету суммируются, а не дедлочат
	ok, budget := l.TryConsumeAll([]Demand{
		{Budget: "weight_per_minute", Units: 6},
		{Budget: "weight_per_minute", Units: 6},
	})
	assert.False(t, ok)
	assert.Equal(t, "weight_per_minute", budget)
	tokens, err := l.Peek("weight_per_minute")
	require.NoError(t, err)
	assert.Equal(t, 10.0, tokens)

	ok, _ = l.TryConsumeAll([]Demand{
		{Budget: "weight_per_minute", Units: 4},
		{Budget: "weight_per_minute", Units: 6},
	})
	assert.True(t, ok)
	tokens, _ = l.Peek("weight_per_minute")
	assert.Equal(t, 0.0, tokens)
}

func TestLimiterUnknownBudgetUnconstrained(t *testing.T) {
	now, _ := newClock(time.Unix(1000, 0))
	l := NewLimiterAt(map[string]BudgetSpec{
		"orders_per_second": {Capacity: 1, RefillRate: 1},
	}, now)

	ok, _ := l.TryConsumeAll([]Demand{
		{Budget: "no_such_budget", Units: 100},
		{Budget: "orders_per_second", Units: 1},
	})
	assert.True(t, ok)

	_, err := l.Peek("no_such_budget")
	assert.Error(t, err)
}

func TestLimiterConcurrentConservation(t *testing.T) {
	now, _ := newClock(time.Unix(1000, 0))
	l := NewLimiterAt(map[string]BudgetSpec{
		"orders_per_second": {Capacity: 100, RefillRate: 0.0001},
	}, now)

	var wg sync.WaitGroup
	var admitted atomic.Int64
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if l.TryConsume("orders_per_second", 1) {
					admitted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	// 500 заявок на 100 токенов: ровно 100 допущено, перерасхода нет
	assert.Equal(t, int64(100), admitted.Load())
	tokens, _ := l.Peek("orders_per_second")
	assert.InDelta(t, 0.0, tokens, 0.01)
}

func TestLimiterStatusCounters(t *testing.T) {
	now, _ := newClock(time.Unix(1000, 0))
	l := NewLimiterAt(map[string]BudgetSpec{
		"orders_per_second": {Capacity: 1, RefillRate: 0.0001},
	}, now)

	assert.True(t, l.TryConsume("orders_per_second", 1))
	assert.False(t, l.TryConsume("orders_per_second", 1))

	status, requests, blocked := l.Status()
	assert.Equal(t, int64(2), requests)
	assert.Equal(t, int64(1), blocked)
	require.Contains(t, status, "orders_per_second")
	assert.InDelta(t, 100.0, status["orders_per_second"].Utilization, 0.1)
}
