package discovery

import (
	"sync"
	"sync/atomic"

	"github.com/GriffinCanCode/AgentOS/sensor/internal/secrets"
)

// State describes a discovered and announced host agent
type State struct {
	PID          int
	AgentUUID    string
	ExtraHeaders []string
	Secrets      secrets.Config
	Endpoint     string
}

// Clone returns a copy that shares nothing with s
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	c.ExtraHeaders = append([]string(nil), s.ExtraHeaders...)
	c.Secrets.List = append([]string(nil), s.Secrets.List...)
	return &c
}

// Transition classifies a swap by whether the old and new values are present
type Transition int

const (
	// Reset is absent to absent
	Reset Transition = iota
	// Activated is absent to present
	Activated
	// Updated is present to present
	Updated
	// Deactivated is present to absent
	Deactivated
)

// String returns the string representation of the transition
func (t Transition) String() string {
	switch t {
	case Reset:
		return "reset"
	case Activated:
		return "activated"
	case Updated:
		return "updated"
	case Deactivated:
		return "deactivated"
	default:
		return "unknown"
	}
}

func classify(prev, next *State) Transition {
	switch {
	case prev == nil && next == nil:
		return Reset
	case prev == nil:
		return Activated
	case next == nil:
		return Deactivated
	default:
		return Updated
	}
}

// Observer is notified synchronously after every swap. Observers must not
// call Swap from inside Update.
type Observer interface {
	Update(prev, next *State, t Transition)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(prev, next *State, t Transition)

// Update calls f
func (f ObserverFunc) Update(prev, next *State, t Transition) {
	f(prev, next, t)
}

// Cell holds the current discovery value. Reads are lock free; swaps are
// serialized and notify observers in registration order before returning.
type Cell struct {
	value atomic.Pointer[State]

	mu        sync.Mutex
	observers []Observer
}

// NewCell creates an empty cell
func NewCell() *Cell {
	return &Cell{}
}

// Value returns the current state or nil when no agent is known
func (c *Cell) Value() *State {
	return c.value.Load()
}

// Ready reports whether a state is present
func (c *Cell) Ready() bool {
	return c.value.Load() != nil
}

// Swap replaces the value with fn(current) and notifies observers. It returns
// the previous value.
func (c *Cell) Swap(fn func(current *State) *State) *State {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.value.Load()
	c.store(prev, fn(prev))
	return prev
}

// Set replaces the value unconditionally
func (c *Cell) Set(next *State) *State {
	return c.Swap(func(*State) *State { return next })
}

// CompareAndSet stores next only if the current value is old. Observers are
// not notified when the comparison fails.
func (c *Cell) CompareAndSet(old, next *State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.value.Load()
	if prev != old {
		return false
	}
	c.store(prev, next)
	return true
}

// store publishes next and runs observers; c.mu must be held
func (c *Cell) store(prev, next *State) {
	c.value.Store(next)

	t := classify(prev, next)
	for _, o := range c.observers {
		o.Update(prev, next, t)
	}
}

// WithObserver registers an observer. Observers added later are notified
// later.
func (c *Cell) WithObserver(o Observer) *Cell {
	c.mu.Lock()
	c.observers = append(c.observers, o)
	c.mu.Unlock()
	return c
}
