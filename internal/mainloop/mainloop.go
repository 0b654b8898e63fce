// Package mainloop implements the MainLoop / Timer Scheduler (spec
// §4.1): a single cooperative "mainloop thread" that drains a
// work-item queue and fires due timers in FIFO-with-deadline order,
// plus a secondary pool-timer service that runs callbacks on a worker
// pool (see pooltimer.go).
//
// Grounded on the teacher's internal/ai/manager.go (ticker + select
// tick loop, clean shutdown via a stop channel) and internal/game/
// quest/timer.go (cancel-and-wait teardown discipline for in-flight
// work). Per the design notes, the loop never assumes an ambient
// "post to main" context — callers are handed the *MainLoop value and
// call QueueMainWorkItem on it explicitly.
package mainloop

import (
	"log/slog"
	"sync"
	"time"
)

// WorkItemFunc is a unit of work run on the mainloop thread.
type WorkItemFunc func(state any)

type workItem struct {
	fn    WorkItemFunc
	state any
	done  chan struct{} // non-nil for WaitForMainWorkItemDrain's sentinel
}

// MainLoop is the cooperative scheduler described in spec §4.1.
type MainLoop struct {
	log *slog.Logger

	mu          sync.Mutex
	queue       []workItem
	sealed      bool
	exitCode    int
	quitStarted bool

	wake chan struct{} // non-blocking signal: new work item, new timer, or quit

	mainGoroutine uint64
	running       bool

	timers map[int64]*mainTimer
	nextID int64

	cond     *sync.Cond
	condOnce sync.Once

	pool *PoolTimerService

	nowFn func() time.Time
}

// New returns a MainLoop ready to Run. poolConcurrency bounds the
// number of pool-timer callbacks that may execute concurrently (spec
// §4.1 "exposes a secondary parallel timer service that runs callbacks
// on a worker pool").
func New(log *slog.Logger, poolConcurrency int) *MainLoop {
	ml := &MainLoop{
		log:    log,
		wake:   make(chan struct{}, 1),
		timers: make(map[int64]*mainTimer),
		nowFn:  time.Now,
	}
	ml.pool = newPoolTimerService(log, poolConcurrency)
	return ml
}

// Now returns the mainloop's current time, used everywhere timer due
// dates are computed. Exists as a seam so tests can swap in a
// deterministic clock with SetClock instead of depending on real-time
// sleeps to exercise scheduling edge cases.
func (ml *MainLoop) Now() time.Time {
	ml.mu.Lock()
	fn := ml.nowFn
	ml.mu.Unlock()
	return fn()
}

// SetClock overrides the clock Now and every timer computation reads
// from. Must be called before Run starts firing timers.
func (ml *MainLoop) SetClock(fn func() time.Time) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.nowFn = fn
}

func (ml *MainLoop) signal() {
	select {
	case ml.wake <- struct{}{}:
	default:
	}
}

// IsMainloop reports whether the calling goroutine is the one
// currently executing Run.
func (ml *MainLoop) IsMainloop() bool {
	ml.mu.Lock()
	running := ml.running
	mg := ml.mainGoroutine
	ml.mu.Unlock()
	return running && goroutineID() == mg
}

// QueueMainWorkItem enqueues fn(state) to run on the mainloop thread.
// Returns false iff the queue has been sealed by Quit.
func (ml *MainLoop) QueueMainWorkItem(fn WorkItemFunc, state any) bool {
	ml.mu.Lock()
	if ml.sealed {
		ml.mu.Unlock()
		return false
	}
	ml.queue = append(ml.queue, workItem{fn: fn, state: state})
	ml.mu.Unlock()
	ml.signal()
	return true
}

// WaitForMainWorkItemDrain blocks until every work item enqueued
// before this call has been processed. If called on the mainloop
// thread it drains synchronously (there's no other thread that could
// be running the loop); otherwise it enqueues a sentinel and waits for
// the loop to reach it.
func (ml *MainLoop) WaitForMainWorkItemDrain() {
	if ml.IsMainloop() {
		ml.drainWorkItems(ml.snapshotQueueLen())
		return
	}

	done := make(chan struct{})
	ml.mu.Lock()
	sealed := ml.sealed
	if !sealed {
		ml.queue = append(ml.queue, workItem{done: done})
	}
	ml.mu.Unlock()
	if sealed {
		return
	}
	ml.signal()
	<-done
}

func (ml *MainLoop) snapshotQueueLen() int {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	return len(ml.queue)
}

// Quit requests the loop to stop: the exit code is recorded, the
// work-item queue is sealed against further adds (so late producers
// get a clean false from QueueMainWorkItem), and the loop is woken.
// Run drains whatever was already queued before returning.
func (ml *MainLoop) Quit(code int) {
	ml.mu.Lock()
	if !ml.quitStarted {
		ml.quitStarted = true
		ml.exitCode = code
	}
	ml.sealed = true
	ml.mu.Unlock()
	ml.signal()
}

// Run blocks on the calling goroutine, which becomes the mainloop
// thread, until Quit has been called and the pending work queue has
// drained. Returns the exit code passed to Quit.
func (ml *MainLoop) Run() int {
	ml.mu.Lock()
	ml.running = true
	ml.mainGoroutine = goroutineID()
	ml.mu.Unlock()

	defer func() {
		ml.mu.Lock()
		ml.running = false
		ml.mu.Unlock()
	}()

	for {
		wait := ml.nextTimerWait()

		ml.mu.Lock()
		quitRequested := ml.quitStarted
		queueEmpty := len(ml.queue) == 0
		ml.mu.Unlock()

		if quitRequested && queueEmpty {
			return ml.finalExitCode()
		}

		timer := time.NewTimer(wait)
		select {
		case <-ml.wake:
			timer.Stop()
		case <-timer.C:
		}

		ml.drainWorkItems(ml.snapshotQueueLen())
		ml.fireDueTimers()
	}
}

func (ml *MainLoop) finalExitCode() int {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	return ml.exitCode
}

// drainWorkItems processes up to n items from the front of the queue,
// bounding starvation from producers racing new items in (spec:
// "drain all work items, up to the count observed on entry").
func (ml *MainLoop) drainWorkItems(n int) {
	for i := 0; i < n; i++ {
		ml.mu.Lock()
		if len(ml.queue) == 0 {
			ml.mu.Unlock()
			return
		}
		item := ml.queue[0]
		ml.queue = ml.queue[1:]
		ml.mu.Unlock()

		ml.runWorkItem(item)
	}
}

func (ml *MainLoop) runWorkItem(item workItem) {
	defer func() {
		if r := recover(); r != nil {
			ml.log.Warn("mainloop work item panicked", "recovered", r)
		}
		if item.done != nil {
			close(item.done)
		}
	}()
	if item.fn != nil {
		item.fn(item.state)
	}
}
