package loop

import (
	"sync"
	"time"
)

// Loop is a single-goroutine cooperative scheduler. All per-page pipeline
// state is confined to the loop goroutine: handlers run as posted tasks, so a
// check followed by a set inside one task can never interleave with another
// task touching the same state. Blocking work (HTTP, decode, recording) runs
// on its own goroutine and posts its continuation back.
type Loop struct {
	tasks    chan func()
	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewLoop creates a loop with a bounded task queue.
func NewLoop(queueSize int) *Loop {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Loop{
		tasks:    make(chan func(), queueSize),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run processes tasks until Stop is called. It must be called exactly once,
// on its own goroutine.
func (l *Loop) Run() {
	defer close(l.done)
	for {
		select {
		case <-l.stopChan:
			// Drain whatever is already queued so cleanup tasks
			// that release element locks still run.
			for {
				select {
				case task := <-l.tasks:
					task()
				default:
					return
				}
			}
		case task := <-l.tasks:
			task()
		}
	}
}

// Post enqueues fn for execution on the loop goroutine, blocking while the
// queue is full. Returns false when the loop is stopped; callers treat that
// as a silently dropped round, never an error.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.stopChan:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.stopChan:
		return false
	}
}

// Stop shuts the loop down. Pending tasks already queued still run.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopChan)
	})
	<-l.done
}

// Timer is a cancelable deferred task. Cancel and the fire callback both run
// on the loop goroutine, so a plain bool is enough to make cancellation
// race-free.
type Timer struct {
	timer    *time.Timer
	canceled bool
}

// AfterFunc schedules fn to run on the loop after d. The returned Timer must
// only be touched from the loop goroutine.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	t := &Timer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.canceled {
				return
			}
			fn()
		})
	})
	return t
}

// Cancel stops the timer. Safe to call after it has fired.
func (t *Timer) Cancel() {
	t.canceled = true
	t.timer.Stop()
}
