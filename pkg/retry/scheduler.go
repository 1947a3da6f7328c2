package retry

import (
	"math/rand"
	"sync"
	"time"
)

// OperationClass groups retries that share a counter and a timer slot
type OperationClass string

const (
	// ClassQuote covers bridge quote refreshes and their retries
	ClassQuote OperationClass = "quote"
	// ClassExecution covers bridge execution retries
	ClassExecution OperationClass = "execution"
	// ClassCompletion is the timer slot for the bridge completion timeout
	ClassCompletion OperationClass = "completion"
)

// DefaultBackoffTable is the escalating base delay per attempt
var DefaultBackoffTable = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
	32 * time.Second,
}

// jitterFraction bounds the random delay added on top of the base delay
const jitterFraction = 0.1

// CancelFunc cancels a scheduled callback if it has not run yet
type CancelFunc func()

// Dispatcher hands a fired callback to the goroutine that owns the caller's state.
// It returns false if the callback was not accepted.
type Dispatcher func(fn func()) bool

// Scheduler computes backoff delays and keeps at most one pending timer per operation class
type Scheduler struct {
	mu        sync.Mutex
	table     []time.Duration
	tables    map[OperationClass][]time.Duration
	timers    map[OperationClass]*pendingTimer
	nextID    uint64
	dispatch  Dispatcher
	randFloat func() float64
}

type pendingTimer struct {
	id    uint64
	timer *time.Timer
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithTable replaces the default backoff table
func WithTable(table []time.Duration) Option {
	return func(s *Scheduler) {
		if len(table) > 0 {
			s.table = table
		}
	}
}

// WithClassTable sets a backoff table for one operation class
func WithClassTable(class OperationClass, table []time.Duration) Option {
	return func(s *Scheduler) {
		if len(table) > 0 {
			s.tables[class] = table
		}
	}
}

// WithDispatcher routes fired callbacks through d instead of running them on the timer goroutine
func WithDispatcher(d Dispatcher) Option {
	return func(s *Scheduler) {
		s.dispatch = d
	}
}

// WithRand sets the source of jitter, it must return values in [0, 1)
func WithRand(f func() float64) Option {
	return func(s *Scheduler) {
		s.randFloat = f
	}
}

// NewScheduler creates a new scheduler
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		table:     DefaultBackoffTable,
		tables:    make(map[OperationClass][]time.Duration),
		timers:    make(map[OperationClass]*pendingTimer),
		randFloat: rand.Float64,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) tableFor(class OperationClass) []time.Duration {
	if table, ok := s.tables[class]; ok {
		return table
	}
	return s.table
}

// Base returns the base delay for an attempt, capped at the last table entry
func (s *Scheduler) Base(attempt int, class OperationClass) time.Duration {
	table := s.tableFor(class)
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(table) {
		return table[len(table)-1]
	}
	return table[attempt]
}

// Delay returns the base delay for an attempt plus up to 10% jitter.
// Jitter is only ever added so retries never fire below the base delay.
func (s *Scheduler) Delay(attempt int, class OperationClass) time.Duration {
	base := s.Base(attempt, class)
	jitter := time.Duration(float64(base) * jitterFraction * s.randFloat())
	return base + jitter
}

// Schedule arms a one-shot timer for the class, replacing any pending timer of the same class
func (s *Scheduler) Schedule(class OperationClass, delay time.Duration, fn func()) CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked(class)

	s.nextID++
	id := s.nextID
	pending := &pendingTimer{id: id}
	pending.timer = time.AfterFunc(delay, func() {
		s.fire(class, id, fn)
	})
	s.timers[class] = pending

	return func() {
		s.cancelID(class, id)
	}
}

// fire runs fn if the timer is still the current one for its class when fn gets to run
func (s *Scheduler) fire(class OperationClass, id uint64, fn func()) {
	run := func() {
		if s.claim(class, id) {
			fn()
		}
	}
	if s.dispatch == nil {
		run()
		return
	}
	if !s.dispatch(run) {
		s.claim(class, id)
	}
}

func (s *Scheduler) claim(class OperationClass, id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, ok := s.timers[class]
	if !ok || pending.id != id {
		return false
	}
	delete(s.timers, class)
	return true
}

func (s *Scheduler) cancelID(class OperationClass, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pending, ok := s.timers[class]; ok && pending.id == id {
		pending.timer.Stop()
		delete(s.timers, class)
	}
}

func (s *Scheduler) stopLocked(class OperationClass) {
	if pending, ok := s.timers[class]; ok {
		pending.timer.Stop()
		delete(s.timers, class)
	}
}

// Cancel cancels the pending timer of a class, if any
func (s *Scheduler) Cancel(class OperationClass) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(class)
}

// CancelAll cancels every pending timer. Safe to call repeatedly.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for class := range s.timers {
		s.stopLocked(class)
	}
}

// Pending reports whether a timer is armed for the class
func (s *Scheduler) Pending(class OperationClass) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[class]
	return ok
}
