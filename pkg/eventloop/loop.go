// Package eventloop runs closures one at a time on a single goroutine so state owned
// by the loop can be mutated without locks.
package eventloop

import (
	"context"
	"sync"
)

// DefaultBufferSize is the queue depth used when New gets a non-positive size
const DefaultBufferSize = 64

// Loop serialises closures posted from any goroutine
type Loop struct {
	queue    chan func()
	done     chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex
	stopped  bool
}

// New creates a loop with the given queue depth
func New(buffer int) *Loop {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	return &Loop{
		queue: make(chan func(), buffer),
		done:  make(chan struct{}),
	}
}

// Run processes posted closures until ctx is cancelled or Stop is called
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return
		case <-l.done:
			return
		case fn := <-l.queue:
			fn()
		}
	}
}

// Post enqueues fn. It returns false once the loop is stopped.
// Post blocks while the queue is full.
func (l *Loop) Post(fn func()) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.stopped {
		return false
	}
	select {
	case l.queue <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do posts fn and waits for it to run. It returns false if the loop stopped first.
func (l *Loop) Do(fn func()) bool {
	ran := make(chan struct{})
	if !l.Post(func() {
		fn()
		close(ran)
	}) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-l.done:
		return false
	}
}

// Stop stops the loop; closures still queued are dropped
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
		l.mu.Lock()
		l.stopped = true
		l.mu.Unlock()
	})
}

// Done is closed when the loop stops
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
