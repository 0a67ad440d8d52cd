package circuit_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adalundhe/switchyard/core/circuit"
	coreerrors "github.com/adalundhe/switchyard/core/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newBreaker(clock *fakeClock, changes *[]circuit.StateChange) *circuit.Breaker {
	cfg := circuit.Config{FailureThreshold: 3, Cooldown: 30 * time.Second}
	var hook func(circuit.StateChange)
	if changes != nil {
		hook = func(c circuit.StateChange) { *changes = append(*changes, c) }
	}
	return circuit.NewBreaker("data_query", cfg, clock.Now, hook)
}

func fail(t *testing.T, b *circuit.Breaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		p, err := b.Allow()
		require.NoError(t, err)
		b.Report(p, circuit.Failure)
	}
}

func TestBreaker_TripsAtThreshold(t *testing.T) {
	clock := newFakeClock()
	var changes []circuit.StateChange
	b := newBreaker(clock, &changes)

	fail(t, b, 2)
	assert.Equal(t, circuit.Closed, b.State())

	fail(t, b, 1)
	assert.Equal(t, circuit.Open, b.State())
	require.Len(t, changes, 1)
	assert.Equal(t, "trip", changes[0].Transition)
	assert.Equal(t, circuit.Closed, changes[0].From)
	assert.Equal(t, circuit.Open, changes[0].To)
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b := newBreaker(newFakeClock(), nil)

	fail(t, b, 2)
	p, err := b.Allow()
	require.NoError(t, err)
	b.Report(p, circuit.Success)
	fail(t, b, 2)

	assert.Equal(t, circuit.Closed, b.State())
	assert.Equal(t, 2, b.Stats().Failures)
}

func TestBreaker_TimeoutCountsAsFailure(t *testing.T) {
	b := newBreaker(newFakeClock(), nil)
	for i := 0; i < 3; i++ {
		p, err := b.Allow()
		require.NoError(t, err)
		b.Report(p, circuit.Timeout)
	}
	assert.Equal(t, circuit.Open, b.State())
}

func TestBreaker_CancelledNotCounted(t *testing.T) {
	b := newBreaker(newFakeClock(), nil)
	for i := 0; i < 10; i++ {
		p, err := b.Allow()
		require.NoError(t, err)
		b.Report(p, circuit.Cancelled)
	}
	assert.Equal(t, circuit.Closed, b.State())
	assert.Equal(t, 0, b.Stats().Failures)
}

func TestBreaker_OpenRejectsDuringCooldown(t *testing.T) {
	clock := newFakeClock()
	b := newBreaker(clock, nil)
	fail(t, b, 3)

	clock.Advance(29 * time.Second)
	_, err := b.Allow()
	require.Error(t, err)
	assert.True(t, errors.Is(err, coreerrors.ErrCircuitOpen))
	assert.Equal(t, circuit.Open, b.State())
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	var changes []circuit.StateChange
	b := newBreaker(clock, &changes)
	fail(t, b, 3)

	clock.Advance(30 * time.Second)
	p, err := b.Allow()
	require.NoError(t, err)
	assert.True(t, p.Probe())
	assert.Equal(t, circuit.HalfOpen, b.State())

	b.Report(p, circuit.Success)
	assert.Equal(t, circuit.Closed, b.State())

	require.Len(t, changes, 3)
	assert.Equal(t, "begin_probe", changes[1].Transition)
	assert.Equal(t, "probe_succeeded", changes[2].Transition)
}

func TestBreaker_ProbeFailureReopensAndRestartsCooldown(t *testing.T) {
	clock := newFakeClock()
	b := newBreaker(clock, nil)
	fail(t, b, 3)

	clock.Advance(31 * time.Second)
	p, err := b.Allow()
	require.NoError(t, err)
	b.Report(p, circuit.Timeout)
	assert.Equal(t, circuit.Open, b.State())

	clock.Advance(10 * time.Second)
	_, err = b.Allow()
	assert.True(t, errors.Is(err, coreerrors.ErrCircuitOpen))

	clock.Advance(21 * time.Second)
	_, err = b.Allow()
	assert.NoError(t, err)
}

func TestBreaker_HalfOpenSingleProbe(t *testing.T) {
	clock := newFakeClock()
	b := newBreaker(clock, nil)
	fail(t, b, 3)
	clock.Advance(time.Minute)

	const callers = 64
	var admitted atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := b.Allow(); err == nil {
				admitted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), admitted.Load())
	assert.Equal(t, circuit.HalfOpen, b.State())
}

func TestBreaker_CancelledProbeReleasesSlot(t *testing.T) {
	clock := newFakeClock()
	b := newBreaker(clock, nil)
	fail(t, b, 3)
	clock.Advance(time.Minute)

	p, err := b.Allow()
	require.NoError(t, err)
	_, err = b.Allow()
	require.Error(t, err)

	b.Report(p, circuit.Cancelled)
	assert.Equal(t, circuit.HalfOpen, b.State())

	p2, err := b.Allow()
	require.NoError(t, err)
	assert.True(t, p2.Probe())

	// A late duplicate report of the cancelled probe must not settle the new one.
	b.Report(p, circuit.Success)
	assert.Equal(t, circuit.HalfOpen, b.State())

	b.Report(p2, circuit.Success)
	assert.Equal(t, circuit.Closed, b.State())
}

func TestBreaker_StalePermitIgnored(t *testing.T) {
	b := newBreaker(newFakeClock(), nil)

	stale, err := b.Allow()
	require.NoError(t, err)
	fail(t, b, 2)

	b.Reset()
	b.Report(stale, circuit.Failure)
	assert.Equal(t, 0, b.Stats().Failures)
}

func TestBreaker_ResetAndForceOpen(t *testing.T) {
	clock := newFakeClock()
	var changes []circuit.StateChange
	b := newBreaker(clock, &changes)

	b.ForceOpen()
	assert.Equal(t, circuit.Open, b.State())
	_, err := b.Allow()
	assert.Error(t, err)

	b.Reset()
	assert.Equal(t, circuit.Closed, b.State())
	_, err = b.Allow()
	assert.NoError(t, err)

	require.Len(t, changes, 2)
	assert.Equal(t, "force_open", changes[0].Transition)
	assert.Equal(t, "reset", changes[1].Transition)
}

func TestBreaker_FailureRate(t *testing.T) {
	cfg := circuit.Config{FailureThreshold: 100, Cooldown: time.Second, FailureRateThreshold: 0.5, RateWindowSize: 4}
	b := circuit.NewBreaker("historian", cfg, newFakeClock().Now, nil)

	outcomes := []circuit.Outcome{circuit.Failure, circuit.Success, circuit.Failure}
	for _, o := range outcomes {
		p, err := b.Allow()
		require.NoError(t, err)
		b.Report(p, o)
	}
	// Window not yet full.
	assert.Equal(t, circuit.Closed, b.State())

	p, err := b.Allow()
	require.NoError(t, err)
	b.Report(p, circuit.Failure)
	assert.Equal(t, circuit.Open, b.State())
}

func TestStateAndOutcomeStrings(t *testing.T) {
	assert.Equal(t, "closed", circuit.Closed.String())
	assert.Equal(t, "open", circuit.Open.String())
	assert.Equal(t, "half_open", circuit.HalfOpen.String())
	assert.Equal(t, "timeout", circuit.Timeout.String())
	assert.Equal(t, "cancelled", circuit.Cancelled.String())

	text, err := circuit.HalfOpen.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "half_open", string(text))
}
