// Package uiautomation adapts the platform accessibility service: the
// service contract, the executor that serializes and bounds calls into it,
// and the node tree it returns.
package uiautomation

import (
	"context"
	"errors"
	"time"
)

// ErrIdleTimeout is returned by Service.WaitForIdle when the UI kept changing
// for the whole timeout. It is a condition failure, not a service failure.
var ErrIdleTimeout = errors.New("ui did not become idle")

// Service is the accessibility connection to the device.
type Service interface {
	// WaitForIdle blocks until the UI has produced no change for at least
	// quiet, or fails with ErrIdleTimeout after timeout.
	WaitForIdle(ctx context.Context, quiet, timeout time.Duration) error

	// RootInActiveWindow returns the root of the active window, or nil when
	// no window is attachable right now.
	RootInActiveWindow(ctx context.Context) (*Node, error)

	// Sleep turns the screen off.
	Sleep(ctx context.Context) error

	// WakeUp turns the screen on.
	WakeUp(ctx context.Context) error

	// SendWindowStateChanged nudges the service into dropping its node cache.
	// Best effort: not every service version honors it.
	SendWindowStateChanged(ctx context.Context) error
}
