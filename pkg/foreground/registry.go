// Package foreground tracks which activity the automation session considers
// current.
package foreground

import (
	"strings"
	"sync/atomic"
	"time"
)

// Activity identifies a foreground screen.
type Activity struct {
	Package string    // Application package, e.g. com.example.app
	Name    string    // Fully qualified activity class
	Since   time.Time // When this activity was observed as resumed
}

// Component returns the activity in package/class form.
func (a Activity) Component() string {
	if a.Package == "" {
		return a.Name
	}
	return a.Package + "/" + a.Name
}

// String returns the short component form, with the package prefix collapsed.
func (a Activity) String() string {
	if a.Package != "" && strings.HasPrefix(a.Name, a.Package+".") {
		return a.Package + "/" + strings.TrimPrefix(a.Name, a.Package)
	}
	return a.Component()
}

// Same reports whether a and b name the same activity, ignoring Since.
func (a Activity) Same(b Activity) bool {
	return a.Package == b.Package && a.Name == b.Name
}

// Registry holds the single current foreground activity. Writes replace the
// whole value through an atomic pointer, so readers never see a partial
// activity and never block writers. Last writer wins.
//
// The zero value is an empty registry ready for use.
type Registry struct {
	current atomic.Pointer[Activity]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Set makes a the current activity.
func (r *Registry) Set(a Activity) {
	r.current.Store(&a)
}

// Current returns the current activity and whether one is set.
func (r *Registry) Current() (Activity, bool) {
	p := r.current.Load()
	if p == nil {
		return Activity{}, false
	}
	return *p, true
}

// Clear removes the current activity.
func (r *Registry) Clear() {
	r.current.Store(nil)
}
