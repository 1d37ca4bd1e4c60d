package reactor

import (
	"sync"
	"time"
)

// timer is a cancellable, one-shot Timer built on time.AfterFunc. It is
// shared by the epoll and poll backends: timer deadlines never
// need the platform's readiness multiplexer.
type timer struct {
	mu       sync.Mutex
	sched    Scheduler
	duration time.Duration
	inner    *time.Timer
	gen      uint64
}

func newTimer(sched Scheduler) *timer {
	return &timer{sched: sched}
}

func (t *timer) ExpiresAfter(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.duration = d
}

// AsyncWait arms the timer. fn is invoked on the scheduler with nil once
// the duration elapses; if Cancel runs first, fn is never invoked.
// Re-arming before a prior wait fires abandons the stale firing, mirroring
// Socket's one-shot-per-arm contract.
func (t *timer) AsyncWait(fn func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	myGen := t.gen
	d := t.duration
	if t.inner != nil {
		t.inner.Stop()
	}
	t.inner = time.AfterFunc(d, func() {
		t.mu.Lock()
		fired := myGen == t.gen
		t.mu.Unlock()
		if !fired {
			return
		}
		t.sched.Schedule(func() { fn(nil) })
	})
}

func (t *timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	if t.inner != nil {
		t.inner.Stop()
		t.inner = nil
	}
}
