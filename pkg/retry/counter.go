package retry

import (
	"time"
)

// Default ceilings for automatic retries per class
const (
	DefaultQuoteCeiling     = 5
	DefaultExecutionCeiling = 3
)

// State is the retry bookkeeping of one operation class
type State struct {
	Count       int       `json:"count"`
	LastAttempt time.Time `json:"last_attempt,omitempty"`
}

// Counter tracks consecutive failures per operation class against a ceiling.
// It is not safe for concurrent use; the owning event loop serialises access.
type Counter struct {
	ceilings map[OperationClass]int
	states   map[OperationClass]State
	now      func() time.Time
}

// NewCounter creates a counter with the given ceilings; classes without one use DefaultQuoteCeiling
func NewCounter(ceilings map[OperationClass]int) *Counter {
	c := &Counter{
		ceilings: make(map[OperationClass]int),
		states:   make(map[OperationClass]State),
		now:      time.Now,
	}
	for class, ceiling := range ceilings {
		c.ceilings[class] = ceiling
	}
	return c
}

// Increment records a failed attempt and returns the new state
func (c *Counter) Increment(class OperationClass) State {
	st := c.states[class]
	st.Count++
	st.LastAttempt = c.now()
	c.states[class] = st
	return st
}

// Count returns the consecutive failure count of a class
func (c *Counter) Count(class OperationClass) int {
	return c.states[class].Count
}

// Ceiling returns the retry ceiling of a class
func (c *Counter) Ceiling(class OperationClass) int {
	if ceiling, ok := c.ceilings[class]; ok {
		return ceiling
	}
	return DefaultQuoteCeiling
}

// Exceeded reports whether the class has failed more times than its ceiling allows
func (c *Counter) Exceeded(class OperationClass) bool {
	return c.Count(class) > c.Ceiling(class)
}

// Reached reports whether the class has failed at least as many times as its ceiling
func (c *Counter) Reached(class OperationClass) bool {
	return c.Count(class) >= c.Ceiling(class)
}

// Reset zeroes the counter of a class
func (c *Counter) Reset(class OperationClass) {
	delete(c.states, class)
}

// ResetAll zeroes every counter
func (c *Counter) ResetAll() {
	c.states = make(map[OperationClass]State)
}

// Snapshot returns a copy of all non-zero states
func (c *Counter) Snapshot() map[OperationClass]State {
	out := make(map[OperationClass]State, len(c.states))
	for class, st := range c.states {
		out[class] = st
	}
	return out
}
