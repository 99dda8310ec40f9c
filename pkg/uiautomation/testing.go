package uiautomation

import (
	"context"
	"sync"
	"time"
)

// FakeService is a scriptable Service for tests. Nil funcs succeed; a nil
// RootFunc reports no window.
type FakeService struct {
	WaitForIdleFunc func(ctx context.Context, quiet, timeout time.Duration) error
	RootFunc        func(ctx context.Context) (*Node, error)
	SleepFunc       func(ctx context.Context) error
	WakeUpFunc      func(ctx context.Context) error
	StateEventFunc  func(ctx context.Context) error

	mu    sync.Mutex
	calls []string
}

func (f *FakeService) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

// Calls returns the names of the methods invoked, in order.
func (f *FakeService) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *FakeService) WaitForIdle(ctx context.Context, quiet, timeout time.Duration) error {
	f.record("WaitForIdle")
	if f.WaitForIdleFunc != nil {
		return f.WaitForIdleFunc(ctx, quiet, timeout)
	}
	return nil
}

func (f *FakeService) RootInActiveWindow(ctx context.Context) (*Node, error) {
	f.record("RootInActiveWindow")
	if f.RootFunc != nil {
		return f.RootFunc(ctx)
	}
	return nil, nil
}

func (f *FakeService) Sleep(ctx context.Context) error {
	f.record("Sleep")
	if f.SleepFunc != nil {
		return f.SleepFunc(ctx)
	}
	return nil
}

func (f *FakeService) WakeUp(ctx context.Context) error {
	f.record("WakeUp")
	if f.WakeUpFunc != nil {
		return f.WakeUpFunc(ctx)
	}
	return nil
}

func (f *FakeService) SendWindowStateChanged(ctx context.Context) error {
	f.record("SendWindowStateChanged")
	if f.StateEventFunc != nil {
		return f.StateEventFunc(ctx)
	}
	return nil
}
