// Package metrics records synchronization outcomes (waits, checks, service timeouts).
package metrics

import "time"

// Wait outcomes.
const (
	OutcomeSatisfied = "satisfied"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)

// Recorder receives synchronization events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	// ObserveWait records one finished wait: the kind of condition, how it
	// ended, how many checks ran and how long it took. kind comes from a small
	// fixed set (root, node, server, other).
	ObserveWait(kind, outcome string, checks int, elapsed time.Duration)

	// IncServiceTimeout counts a service call that failed as ServiceTimeout.
	IncServiceTimeout(operation string)
}

// Nop is a Recorder that drops everything.
type Nop struct{}

func (Nop) ObserveWait(string, string, int, time.Duration) {}
func (Nop) IncServiceTimeout(string)                       {}
