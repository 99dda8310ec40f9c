package driver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/uisync/pkg/core"
	"github.com/devicelab-dev/uisync/pkg/foreground"
	"github.com/devicelab-dev/uisync/pkg/poll"
	"github.com/devicelab-dev/uisync/pkg/uiautomation"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func window() *uiautomation.Node {
	root := &uiautomation.Node{Class: "android.widget.FrameLayout"}
	root.Children = []*uiautomation.Node{
		{Class: "android.widget.Button", Text: "Log in", Parent: root, Depth: 1},
	}
	return root
}

type timeoutRecorder struct {
	mu       sync.Mutex
	timeouts []string
	kinds    []string
}

func (r *timeoutRecorder) ObserveWait(kind, _ string, _ int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
}

func (r *timeoutRecorder) IncServiceTimeout(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeouts = append(r.timeouts, op)
}

func (r *timeoutRecorder) ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.timeouts...)
}

// newFakeDriver wires a driver to svc with a virtual clock.
func newFakeDriver(svc *uiautomation.FakeService, opts Options, execOpts ...uiautomation.ExecutorOption) (*Driver, *poll.FakeClock) {
	clock := poll.NewFakeClock(epoch)
	opts.Poller = poll.New(poll.WithClock(clock))
	return New(uiautomation.NewSerialExecutor(svc, execOpts...), opts), clock
}

func TestRootNode_ImmediateRoot(t *testing.T) {
	svc := &uiautomation.FakeService{RootFunc: func(context.Context) (*uiautomation.Node, error) {
		return window(), nil
	}}
	d, clock := newFakeDriver(svc, Options{})

	root, err := d.RootNode(context.Background(), 2*time.Second)

	require.NoError(t, err)
	assert.Equal(t, "android.widget.FrameLayout", root.Class)
	assert.Equal(t, []string{"WaitForIdle", "RootInActiveWindow"}, svc.Calls())
	assert.Empty(t, clock.Sleeps())
}

func TestRootNode_PassesQuietWindowAndBudgetToIdle(t *testing.T) {
	var gotQuiet, gotTimeout time.Duration
	svc := &uiautomation.FakeService{
		WaitForIdleFunc: func(_ context.Context, quiet, timeout time.Duration) error {
			gotQuiet, gotTimeout = quiet, timeout
			return nil
		},
		RootFunc: func(context.Context) (*uiautomation.Node, error) { return window(), nil },
	}
	d, _ := newFakeDriver(svc, Options{QuietWindow: 700 * time.Millisecond})

	_, err := d.RootNode(context.Background(), 3*time.Second)

	require.NoError(t, err)
	assert.Equal(t, 700*time.Millisecond, gotQuiet)
	assert.Equal(t, 3*time.Second, gotTimeout)
}

func TestRootNode_PhasesShareOneDeadline(t *testing.T) {
	var clock *poll.FakeClock
	svc := &uiautomation.FakeService{
		WaitForIdleFunc: func(context.Context, time.Duration, time.Duration) error {
			clock.Advance(300 * time.Millisecond)
			return nil
		},
		RootFunc: func(context.Context) (*uiautomation.Node, error) {
			if clock.Now().Sub(epoch) < 350*time.Millisecond {
				return nil, nil
			}
			return window(), nil
		},
	}
	d, c := newFakeDriver(svc, Options{PollInterval: 50 * time.Millisecond})
	clock = c

	root, err := d.RootNode(context.Background(), 2*time.Second)

	require.NoError(t, err)
	require.NotNil(t, root)
	assert.Equal(t, 350*time.Millisecond, clock.Now().Sub(epoch))
}

func TestRootNode_FetchGetsOnlyRemainingBudget(t *testing.T) {
	var clock *poll.FakeClock
	svc := &uiautomation.FakeService{
		WaitForIdleFunc: func(context.Context, time.Duration, time.Duration) error {
			clock.Advance(1800 * time.Millisecond)
			return nil
		},
	}
	d, c := newFakeDriver(svc, Options{})
	clock = c

	_, err := d.RootNode(context.Background(), 2*time.Second)

	require.Error(t, err)
	assert.True(t, core.IsConditionTimeout(err))
	assert.False(t, core.IsServiceTimeout(err))
	assert.Equal(t, 2*time.Second, clock.Now().Sub(epoch))
	assert.Equal(t, []time.Duration{200 * time.Millisecond}, clock.Sleeps())

	e, ok := core.AsExecutionError(err)
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, e.Timeout)
	assert.Equal(t, rootCondition, e.Condition())
	assert.Equal(t, "timed out after 2000 milliseconds waiting for root AccessibilityNodeInfo", err.Error())
}

func TestRootNode_IdleUsesWholeBudgetStillChecksOnce(t *testing.T) {
	var clock *poll.FakeClock
	svc := &uiautomation.FakeService{
		WaitForIdleFunc: func(context.Context, time.Duration, time.Duration) error {
			clock.Advance(time.Second)
			return nil
		},
	}
	d, c := newFakeDriver(svc, Options{})
	clock = c

	_, err := d.RootNode(context.Background(), time.Second)

	assert.True(t, core.IsConditionTimeout(err))
	assert.Equal(t, []string{"WaitForIdle", "RootInActiveWindow"}, svc.Calls())
}

func TestRootNode_IdleTimeoutIsConditionTimeout(t *testing.T) {
	svc := &uiautomation.FakeService{
		WaitForIdleFunc: func(context.Context, time.Duration, time.Duration) error {
			return uiautomation.ErrIdleTimeout
		},
	}
	d, _ := newFakeDriver(svc, Options{})

	_, err := d.RootNode(context.Background(), time.Second)

	require.Error(t, err)
	assert.True(t, core.IsConditionTimeout(err))
	assert.False(t, core.IsServiceTimeout(err))
	assert.ErrorIs(t, err, uiautomation.ErrIdleTimeout)
	assert.Equal(t, []string{"WaitForIdle"}, svc.Calls())
}

func TestRootNode_IdleCallExceedsServiceBound(t *testing.T) {
	svc := &uiautomation.FakeService{
		WaitForIdleFunc: func(ctx context.Context, _, _ time.Duration) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	d := New(uiautomation.NewSerialExecutor(svc, uiautomation.WithCallTimeout(30*time.Millisecond)), Options{})

	_, err := d.RootNode(context.Background(), 50*time.Millisecond)

	require.Error(t, err)
	assert.True(t, core.IsServiceTimeout(err))
	assert.False(t, core.IsConditionTimeout(err))
}

func TestRootNode_IdleBudgetOutlivesCallTimeout(t *testing.T) {
	svc := &uiautomation.FakeService{
		WaitForIdleFunc: func(ctx context.Context, _, timeout time.Duration) error {
			select {
			case <-time.After(timeout):
				return uiautomation.ErrIdleTimeout
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	rec := &timeoutRecorder{}
	exec := uiautomation.NewSerialExecutor(svc,
		uiautomation.WithCallTimeout(200*time.Millisecond),
		uiautomation.WithRecorder(rec))
	d := New(exec, Options{})

	_, err := d.RootNode(context.Background(), 500*time.Millisecond)

	require.Error(t, err)
	assert.True(t, core.IsConditionTimeout(err))
	assert.False(t, core.IsServiceTimeout(err))
	assert.ErrorIs(t, err, uiautomation.ErrIdleTimeout)
	assert.Empty(t, rec.ops())
}

func TestRootNode_FetchFailurePropagatesImmediately(t *testing.T) {
	calls := 0
	svc := &uiautomation.FakeService{
		RootFunc: func(context.Context) (*uiautomation.Node, error) {
			calls++
			return nil, errors.New("UiAutomation not connected")
		},
	}
	d, clock := newFakeDriver(svc, Options{})

	_, err := d.RootNode(context.Background(), 5*time.Second)

	assert.True(t, core.IsServiceTimeout(err))
	assert.Equal(t, 1, calls)
	assert.Empty(t, clock.Sleeps())
}

func TestRootNode_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svc := &uiautomation.FakeService{
		RootFunc: func(context.Context) (*uiautomation.Node, error) {
			cancel()
			return nil, nil
		},
	}
	d, _ := newFakeDriver(svc, Options{})

	_, err := d.RootNode(ctx, 5*time.Second)

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, core.IsConditionTimeout(err))
}

func TestRootNode_DefaultTimeout(t *testing.T) {
	var gotTimeout time.Duration
	svc := &uiautomation.FakeService{
		WaitForIdleFunc: func(_ context.Context, _, timeout time.Duration) error {
			gotTimeout = timeout
			return nil
		},
		RootFunc: func(context.Context) (*uiautomation.Node, error) { return window(), nil },
	}
	d, _ := newFakeDriver(svc, Options{RootTimeout: 4 * time.Second})

	_, err := d.RootNode(context.Background(), 0)

	require.NoError(t, err)
	assert.Equal(t, 4*time.Second, gotTimeout)
}

func TestRootNode_RealClock(t *testing.T) {
	start := time.Now()
	svc := &uiautomation.FakeService{
		WaitForIdleFunc: func(context.Context, time.Duration, time.Duration) error {
			time.Sleep(30 * time.Millisecond)
			return nil
		},
		RootFunc: func(context.Context) (*uiautomation.Node, error) {
			if time.Since(start) < 60*time.Millisecond {
				return nil, nil
			}
			return window(), nil
		},
	}
	d := New(uiautomation.NewSerialExecutor(svc), Options{PollInterval: 10 * time.Millisecond})

	root, err := d.RootNode(context.Background(), 2*time.Second)

	require.NoError(t, err)
	require.NotNil(t, root)
	assert.Less(t, time.Since(start), time.Second)
}

func TestInvalidateCache(t *testing.T) {
	tests := []struct {
		strategy Strategy
		calls    []string
	}{
		{FullReset, []string{"Sleep", "WakeUp"}},
		{SoftInvalidation, []string{"SendWindowStateChanged"}},
	}

	for _, tt := range tests {
		t.Run(tt.strategy.String(), func(t *testing.T) {
			svc := &uiautomation.FakeService{}
			d, _ := newFakeDriver(svc, Options{})

			require.NoError(t, d.InvalidateCache(context.Background(), tt.strategy))
			assert.Equal(t, tt.calls, svc.Calls())
		})
	}
}

func TestInvalidateCache_SleepFailureSkipsWakeUp(t *testing.T) {
	svc := &uiautomation.FakeService{SleepFunc: func(context.Context) error { return errors.New("denied") }}
	d, _ := newFakeDriver(svc, Options{})

	err := d.InvalidateCache(context.Background(), FullReset)

	assert.True(t, core.IsServiceTimeout(err))
	assert.Equal(t, []string{"Sleep"}, svc.Calls())
}

func TestInvalidateCache_UnknownStrategy(t *testing.T) {
	svc := &uiautomation.FakeService{}
	d, _ := newFakeDriver(svc, Options{})

	assert.Error(t, d.InvalidateCache(context.Background(), Strategy(42)))
	assert.Empty(t, svc.Calls())
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("full")
	require.NoError(t, err)
	assert.Equal(t, FullReset, s)

	s, err = ParseStrategy(" Soft ")
	require.NoError(t, err)
	assert.Equal(t, SoftInvalidation, s)

	_, err = ParseStrategy("nuke")
	assert.Error(t, err)
}

func TestForeground(t *testing.T) {
	d := New(uiautomation.NewSerialExecutor(&uiautomation.FakeService{}), Options{})
	a := foreground.Activity{Package: "com.example", Name: "com.example.A"}
	b := foreground.Activity{Package: "com.example", Name: "com.example.B"}

	_, ok := d.CurrentForeground()
	assert.False(t, ok)

	d.SetCurrentForeground(a)
	d.SetCurrentForeground(b)
	got, ok := d.CurrentForeground()
	require.True(t, ok)
	assert.Equal(t, b, got)

	d.ClearForeground()
	_, ok = d.CurrentForeground()
	assert.False(t, ok)
}

func TestForeground_SharedRegistry(t *testing.T) {
	reg := foreground.NewRegistry()
	d := New(uiautomation.NewSerialExecutor(&uiautomation.FakeService{}), Options{Registry: reg})

	reg.Set(foreground.Activity{Name: "X"})
	got, ok := d.CurrentForeground()
	require.True(t, ok)
	assert.Equal(t, "X", got.Name)
	assert.Same(t, reg, d.Registry())
}

func TestNodeMatching(t *testing.T) {
	var clock *poll.FakeClock
	svc := &uiautomation.FakeService{
		RootFunc: func(context.Context) (*uiautomation.Node, error) {
			if clock.Now().Sub(epoch) < 500*time.Millisecond {
				return nil, nil
			}
			return window(), nil
		},
	}
	d, c := newFakeDriver(svc, Options{})
	clock = c

	checker := d.NodeMatching("text=Log in", func(n *uiautomation.Node) bool { return n.Text == "Log in" })
	n, err := poll.WaitFor(context.Background(), d.Poller(), checker, 2*time.Second, 250*time.Millisecond)

	require.NoError(t, err)
	assert.Equal(t, "android.widget.Button", n.Class)
	assert.Equal(t, 500*time.Millisecond, clock.Now().Sub(epoch))
}

func TestWaitKinds_AreFixedLabels(t *testing.T) {
	svc := &uiautomation.FakeService{RootFunc: func(context.Context) (*uiautomation.Node, error) {
		return window(), nil
	}}
	rec := &timeoutRecorder{}
	clock := poll.NewFakeClock(epoch)
	d := New(uiautomation.NewSerialExecutor(svc), Options{
		Poller: poll.New(poll.WithClock(clock), poll.WithRecorder(rec)),
	})

	_, err := d.RootNode(context.Background(), time.Second)
	require.NoError(t, err)
	_, err = poll.WaitFor(context.Background(), d.Poller(), d.NodeMatching(`node text="Log in"`, func(n *uiautomation.Node) bool {
		return n.Text == "Log in"
	}), time.Second, 10*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, []string{"root", "node"}, rec.kinds)
}

func TestNodeMatching_Timeout(t *testing.T) {
	svc := &uiautomation.FakeService{RootFunc: func(context.Context) (*uiautomation.Node, error) { return window(), nil }}
	d, _ := newFakeDriver(svc, Options{})

	checker := d.NodeMatching("text=Sign up", func(n *uiautomation.Node) bool { return n.Text == "Sign up" })
	_, err := poll.WaitFor(context.Background(), d.Poller(), checker, time.Second, 250*time.Millisecond)

	assert.True(t, core.IsConditionTimeout(err))
	assert.Contains(t, err.Error(), "text=Sign up")
}

func TestNew_Defaults(t *testing.T) {
	d := New(uiautomation.NewSerialExecutor(&uiautomation.FakeService{}), Options{})

	assert.Equal(t, DefaultQuietWindow, d.QuietWindow())
	assert.NotEmpty(t, d.SessionID())
	assert.NotNil(t, d.Poller())
}
