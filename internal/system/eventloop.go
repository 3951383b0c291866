package system

import (
	"fmt"
	"sync"
)

// eventQueueSize bounds the number of pending events before Post blocks.
const eventQueueSize = 64

// Loop runs posted functions one at a time on a dedicated goroutine.
//
// Transports post their events here instead of invoking the connection
// managers from their own callback context, so a manager never sees an event
// re-entrantly while it is still dispatching.
type Loop struct {
	queue chan func()
}

var (
	loopMu   sync.Mutex
	loop     *Loop
	recovers func(r any)
)

// EventLoop returns the process-wide event loop, installing it on first use.
//
// Installation is idempotent and guarded by a lock. The loop lives for the
// lifetime of the process.
func EventLoop() *Loop {
	loopMu.Lock()
	defer loopMu.Unlock()

	if loop == nil {
		loop = &Loop{queue: make(chan func(), eventQueueSize)}
		go loop.run()
	}
	return loop
}

// SetPanicHandler sets the function receiving values recovered from posted
// functions. The default discards them.
func SetPanicHandler(fn func(r any)) {
	loopMu.Lock()
	recovers = fn
	loopMu.Unlock()
}

// Post queues fn for execution on the loop goroutine.
// Functions run in the order they were posted.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.queue <- fn
}

// Sync blocks until every function posted before the call has run.
func (l *Loop) Sync() {
	done := make(chan struct{})
	l.Post(func() { close(done) })
	<-done
}

func (l *Loop) run() {
	for fn := range l.queue {
		l.call(fn)
	}
}

func (l *Loop) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			loopMu.Lock()
			handler := recovers
			loopMu.Unlock()
			if handler != nil {
				handler(fmt.Sprintf("event loop: %v", r))
			}
		}
	}()
	fn()
}
