package service

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade_exec/internal/models"
	"trade_exec/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func testClock(start time.Time) (func() time.Time, func(d time.Duration)) {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return cur
		}, func(d time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			cur = cur.Add(d)
		}
}

func newTestRecord(t *testing.T, d Defaults, events chan models.BreakerEvent) (*Record, func(time.Duration)) {
	t.Helper()
	now, advance := testClock(time.Unix(5000, 0))
	reg := NewRegistryAt(d, events, now)
	return reg.Get("dep_" + t.Name()), advance
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	events := make(chan models.BreakerEvent, 8)
	r, _ := newTestRecord(t, Defaults{FailureThreshold: 3, SuccessThreshold: 1, OpenTimeout: 5 * time.Second}, events)

	for i := 0; i < 2; i++ {
		require.True(t, r.Allow())
		r.RecordFailure("http 503")
		assert.Equal(t, "CLOSED", r.Snapshot().State)
	}

	require.True(t, r.Allow())
	r.RecordFailure("http 503")
	assert.Equal(t, "OPEN", r.Snapshot().State)
	assert.False(t, r.Allow())

	ev := <-events
	assert.Equal(t, "CLOSED", ev.From)
	assert.Equal(t, "OPEN", ev.To)
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	r, _ := newTestRecord(t, Defaults{FailureThreshold: 3, SuccessThreshold: 1, OpenTimeout: 5 * time.Second}, nil)

	r.RecordFailure("x")
	r.RecordFailure("x")
	r.RecordSuccess()
	r.RecordFailure("x")
	r.RecordFailure("x")
	// серия прервана успехом — порог не достигнут
	assert.Equal(t, "CLOSED", r.Snapshot().State)
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	r, advance := newTestRecord(t, Defaults{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: 5 * time.Second}, nil)

	r.RecordFailure("boom")
	require.Equal(t, "OPEN", r.Snapshot().State)
	assert.False(t, r.Allow())

	advance(5 * time.Second)

	// первая проба проходит, вторая — нет, пока первая в полёте
	assert.True(t, r.Allow())
	assert.Equal(t, "HALF_OPEN", r.Snapshot().State)
	assert.False(t, r.Allow())

	r.RecordSuccess()
	assert.Equal(t, "CLOSED", r.Snapshot().State)
	assert.True(t, r.Allow())
}

func TestBreakerProbeFailureReopensAndResetsTimer(t *testing.T) {
	r, advance := newTestRecord(t, Defaults{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: 5 * time.Second}, nil)

	r.RecordFailure("boom")
	advance(5 * time.Second)
	require.True(t, r.Allow())
	r.RecordFailure("still down")
	assert.Equal(t, "OPEN", r.Snapshot().State)

	// таймер пошёл заново: половины окна мало
	advance(2 * time.Second)
	assert.False(t, r.Allow())
	advance(3 * time.Second)
	assert.True(t, r.Allow())
}

func TestBreakerReleaseProbeFreesSlot(t *testing.T) {
	r, advance := newTestRecord(t, Defaults{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: 5 * time.Second}, nil)

	r.RecordFailure("boom")
	advance(5 * time.Second)
	require.True(t, r.Allow())

	// вызов отменили до сети — слот пробы возвращается, брейкер не клинит
	r.ReleaseProbe()
	assert.Equal(t, "HALF_OPEN", r.Snapshot().State)
	assert.True(t, r.Allow())

	r.RecordSuccess()
	assert.Equal(t, "CLOSED", r.Snapshot().State)
}

func TestBreakerSuccessThresholdGreaterThanOne(t *testing.T) {
	r, advance := newTestRecord(t, Defaults{FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: time.Second}, nil)

	r.RecordFailure("boom")
	advance(time.Second)

	require.True(t, r.Allow())
	r.RecordSuccess()
	assert.Equal(t, "HALF_OPEN", r.Snapshot().State, "одного успеха мало при пороге 2")

	require.True(t, r.Allow())
	r.RecordSuccess()
	assert.Equal(t, "CLOSED", r.Snapshot().State)
}

func TestRegistryIsolatesDependencies(t *testing.T) {
	now, _ := testClock(time.Unix(5000, 0))
	reg := NewRegistryAt(Defaults{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: time.Minute}, nil, now)

	reg.Get("okx_trade").RecordFailure("down")
	assert.False(t, reg.Get("okx_trade").Allow())
	assert.True(t, reg.Get("okx_market").Allow(), "падение торговли не трогает рынок")

	snaps := reg.Snapshots()
	assert.Equal(t, "OPEN", snaps["okx_trade"].State)
	assert.Equal(t, "CLOSED", snaps["okx_market"].State)
}

func TestRegistryReturnsSameRecord(t *testing.T) {
	now, _ := testClock(time.Unix(5000, 0))
	reg := NewRegistryAt(Defaults{}, nil, now)
	assert.Same(t, reg.Get("a"), reg.Get("a"))
}
