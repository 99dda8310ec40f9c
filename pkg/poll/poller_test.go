package poll

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/uisync/pkg/core"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// countingChecker never yields and records the virtual time of each check.
type countingChecker struct {
	clock Clock
	times []time.Duration
}

func (c *countingChecker) Check(context.Context) (string, bool, error) {
	c.times = append(c.times, c.clock.Now().Sub(epoch))
	return "", false, nil
}

type waitRecord struct {
	condition, outcome string
	checks             int
}

type fakeRecorder struct {
	mu    sync.Mutex
	waits []waitRecord
}

func (r *fakeRecorder) ObserveWait(condition, outcome string, checks int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, waitRecord{condition, outcome, checks})
}

func (r *fakeRecorder) IncServiceTimeout(string) {}

func TestWaitFor_ImmediateSuccess(t *testing.T) {
	p := New()
	start := time.Now()

	v, err := WaitFor(context.Background(), p, CheckerFunc[string](func(context.Context) (string, bool, error) {
		return "root", true, nil
	}), 5000*time.Millisecond, 250*time.Millisecond)

	require.NoError(t, err)
	assert.Equal(t, "root", v)
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestWaitFor_ImmediateSuccessDoesNotSleep(t *testing.T) {
	clock := NewFakeClock(epoch)
	p := New(WithClock(clock))

	_, err := WaitFor(context.Background(), p, CheckerFunc[int](func(context.Context) (int, bool, error) {
		return 7, true, nil
	}), time.Second, 250*time.Millisecond)

	require.NoError(t, err)
	assert.Empty(t, clock.Sleeps())
}

func TestWaitFor_NeverSatisfied(t *testing.T) {
	clock := NewFakeClock(epoch)
	p := New(WithClock(clock))
	checker := &countingChecker{clock: clock}

	_, err := WaitFor[string](context.Background(), p, checker, 1000*time.Millisecond, 250*time.Millisecond)

	require.Error(t, err)
	assert.True(t, core.IsConditionTimeout(err))
	assert.Equal(t, []time.Duration{0, 250 * time.Millisecond, 500 * time.Millisecond, 750 * time.Millisecond, 1000 * time.Millisecond}, checker.times)

	elapsed := clock.Now().Sub(epoch)
	assert.GreaterOrEqual(t, elapsed, 1000*time.Millisecond)
	assert.Less(t, elapsed, 1250*time.Millisecond)

	e, ok := core.AsExecutionError(err)
	require.True(t, ok)
	assert.Equal(t, time.Second, e.Timeout)
}

func TestWaitFor_CheckBoundAndElapsedWindow(t *testing.T) {
	tests := []struct {
		timeout, interval time.Duration
	}{
		{1000 * time.Millisecond, 250 * time.Millisecond},
		{1100 * time.Millisecond, 250 * time.Millisecond},
		{90 * time.Millisecond, 40 * time.Millisecond},
		{10 * time.Millisecond, 250 * time.Millisecond},
		{0, 250 * time.Millisecond},
		{3 * time.Second, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v/%v", tt.timeout, tt.interval), func(t *testing.T) {
			clock := NewFakeClock(epoch)
			p := New(WithClock(clock))
			checker := &countingChecker{clock: clock}

			_, err := WaitFor[string](context.Background(), p, checker, tt.timeout, tt.interval)
			require.True(t, core.IsConditionTimeout(err))

			maxChecks := int((tt.timeout+tt.interval-1)/tt.interval) + 1
			assert.LessOrEqual(t, len(checker.times), maxChecks)
			assert.GreaterOrEqual(t, len(checker.times), 1)

			elapsed := clock.Now().Sub(epoch)
			assert.GreaterOrEqual(t, elapsed, tt.timeout)
			assert.Less(t, elapsed, tt.timeout+tt.interval)

			for _, s := range clock.Sleeps() {
				assert.Greater(t, s, time.Duration(0))
				assert.LessOrEqual(t, s, tt.interval)
			}
		})
	}
}

func TestWaitFor_LastSleepIsRemaining(t *testing.T) {
	clock := NewFakeClock(epoch)
	p := New(WithClock(clock))

	_, err := WaitFor[string](context.Background(), p, &countingChecker{clock: clock}, 1100*time.Millisecond, 250*time.Millisecond)
	require.Error(t, err)

	sleeps := clock.Sleeps()
	require.NotEmpty(t, sleeps)
	assert.Equal(t, 100*time.Millisecond, sleeps[len(sleeps)-1])
}

func TestWaitFor_IntervalClampedToCap(t *testing.T) {
	clock := NewFakeClock(epoch)
	p := New(WithClock(clock), WithMaxInterval(100*time.Millisecond))

	_, err := WaitFor[string](context.Background(), p, &countingChecker{clock: clock}, 500*time.Millisecond, 2*time.Second)
	require.Error(t, err)

	for _, s := range clock.Sleeps() {
		assert.Equal(t, 100*time.Millisecond, s)
	}
}

func TestWaitFor_NonPositiveIntervalUsesCap(t *testing.T) {
	clock := NewFakeClock(epoch)
	p := New(WithClock(clock))

	_, err := WaitFor[string](context.Background(), p, &countingChecker{clock: clock}, time.Second, 0)
	require.Error(t, err)
	assert.Equal(t, DefaultMaxInterval, clock.Sleeps()[0])
}

func TestWaitFor_EmptyValueStillSatisfies(t *testing.T) {
	clock := NewFakeClock(epoch)
	p := New(WithClock(clock))
	calls := 0

	v, err := WaitFor(context.Background(), p, CheckerFunc[[]string](func(context.Context) ([]string, bool, error) {
		calls++
		if calls < 3 {
			return nil, false, nil
		}
		return []string{}, true, nil
	}), time.Second, 100*time.Millisecond)

	require.NoError(t, err)
	assert.NotNil(t, v)
	assert.Empty(t, v)
	assert.Equal(t, 3, calls)
}

func TestWaitFor_CheckerErrorPropagatesUnchanged(t *testing.T) {
	clock := NewFakeClock(epoch)
	p := New(WithClock(clock))
	boom := errors.New("bad predicate")

	_, err := WaitFor(context.Background(), p, CheckerFunc[int](func(context.Context) (int, bool, error) {
		return 0, false, boom
	}), time.Second, 100*time.Millisecond)

	assert.Same(t, boom, err)
	assert.False(t, core.IsConditionTimeout(err))
	assert.Empty(t, clock.Sleeps())
}

func TestWaitFor_DescriptionInError(t *testing.T) {
	clock := NewFakeClock(epoch)
	p := New(WithClock(clock))

	_, err := WaitFor[string](context.Background(), p, Describe[string]("text=Login", &countingChecker{clock: clock}), 500*time.Millisecond, 250*time.Millisecond)

	require.Error(t, err)
	assert.Equal(t, "timed out after 500 milliseconds waiting for text=Login", err.Error())
}

func TestWaitFor_CancelledBeforeFirstCheck(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false

	_, err := WaitFor(ctx, New(), CheckerFunc[int](func(context.Context) (int, bool, error) {
		called = true
		return 0, false, nil
	}), time.Second, 100*time.Millisecond)

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, core.IsConditionTimeout(err))
	assert.False(t, called)
}

func TestWaitFor_CancelInterruptsSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := New(WithMaxInterval(time.Hour))

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := WaitFor(ctx, p, CheckerFunc[int](func(context.Context) (int, bool, error) {
		return 0, false, nil
	}), time.Minute, time.Hour)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestWaitUntil_PastDeadlineChecksOnce(t *testing.T) {
	clock := NewFakeClock(epoch)
	p := New(WithClock(clock))
	checker := &countingChecker{clock: clock}

	_, err := WaitUntil[string](context.Background(), p, checker, epoch.Add(-time.Second), 250*time.Millisecond)

	assert.True(t, core.IsConditionTimeout(err))
	assert.Len(t, checker.times, 1)
	assert.Empty(t, clock.Sleeps())
}

func TestWaitUntil_UsesAbsoluteDeadline(t *testing.T) {
	clock := NewFakeClock(epoch)
	p := New(WithClock(clock))
	clock.Advance(700 * time.Millisecond)

	_, err := WaitUntil[string](context.Background(), p, &countingChecker{clock: clock}, epoch.Add(time.Second), 250*time.Millisecond)

	require.Error(t, err)
	assert.Equal(t, epoch.Add(time.Second), clock.Now())

	e, _ := core.AsExecutionError(err)
	assert.Equal(t, 300*time.Millisecond, e.Timeout)
}

func TestWaitFor_RecordsOutcome(t *testing.T) {
	clock := NewFakeClock(epoch)
	rec := &fakeRecorder{}
	p := New(WithClock(clock), WithRecorder(rec))

	_, _ = WaitFor[string](context.Background(), p, DescribeKind[string]("node", `node text="Log in"`, &countingChecker{clock: clock}), 500*time.Millisecond, 250*time.Millisecond)
	_, _ = WaitFor(context.Background(), p, Describe[int]("ready", CheckerFunc[int](func(context.Context) (int, bool, error) {
		return 1, true, nil
	})), time.Second, 250*time.Millisecond)

	require.Len(t, rec.waits, 2)
	assert.Equal(t, waitRecord{"node", "timeout", 3}, rec.waits[0])
	assert.Equal(t, waitRecord{KindOther, "satisfied", 1}, rec.waits[1])
}

func TestDescribeKind_KeepsDescriptionInErrors(t *testing.T) {
	clock := NewFakeClock(epoch)
	p := New(WithClock(clock))

	_, err := WaitFor[string](context.Background(), p, DescribeKind[string]("node", `node text="Log in"`, &countingChecker{clock: clock}), 250*time.Millisecond, 250*time.Millisecond)

	require.Error(t, err)
	assert.Contains(t, err.Error(), `waiting for node text="Log in"`)
}

func TestRealClock_SleepZero(t *testing.T) {
	assert.NoError(t, RealClock{}.Sleep(context.Background(), 0))
	assert.NoError(t, RealClock{}.Sleep(context.Background(), -time.Second))
}
