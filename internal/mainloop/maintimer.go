package mainloop

import (
	"reflect"
	"sync"
	"time"
)

// TimerFunc is a main-thread timer callback. The returned bool is
// "keepRunning" — false removes the timer instead of re-arming it.
type TimerFunc func(state any) bool

// TimerID identifies one registered main-thread timer.
type TimerID int64

type mainTimer struct {
	id         int64
	cb         TimerFunc
	cbID       uintptr
	key        any
	state      any
	intervalMs int64 // -1 == one-shot
	whenDue    time.Time
	inFlight   bool
	stop       bool
	stopped    bool
}

func cbIdentity(cb TimerFunc) uintptr {
	return reflect.ValueOf(cb).Pointer()
}

// SetMainTimer registers a cooperative timer. intervalMs == -1 makes it
// one-shot. key groups timers for ClearMainTimer; it must be a
// comparable value (or nil).
func (ml *MainLoop) SetMainTimer(cb TimerFunc, state any, initialDelayMs, intervalMs int64, key any) TimerID {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	id := ml.nextID
	ml.nextID++

	ml.timers[id] = &mainTimer{
		id:         id,
		cb:         cb,
		cbID:       cbIdentity(cb),
		key:        key,
		state:      state,
		intervalMs: intervalMs,
		whenDue:    ml.nowFn().Add(time.Duration(initialDelayMs) * time.Millisecond),
	}
	ml.signal()
	return TimerID(id)
}

// ClearMainTimer removes every registered timer whose callback has the
// same identity as cb and whose key matches (key == nil matches any
// key for that callback). cleanup, if non-nil, is invoked once per
// removed timer with that timer's state — never for survivors (a
// prior revision of this algorithm walked the surviving list instead;
// that was a bug, see spec §9 design notes).
func (ml *MainLoop) ClearMainTimer(cb TimerFunc, key any, cleanup func(state any)) {
	cbID := cbIdentity(cb)

	ml.mu.Lock()
	var targets []int64
	for id, t := range ml.timers {
		if t.cbID == cbID && (key == nil || t.key == key) {
			targets = append(targets, id)
		}
	}
	ml.mu.Unlock()

	for _, id := range targets {
		ml.clearOneMainTimer(id, cleanup)
	}
}

func (ml *MainLoop) clearOneMainTimer(id int64, cleanup func(state any)) {
	ml.mu.Lock()
	t, ok := ml.timers[id]
	if !ok {
		ml.mu.Unlock()
		return
	}

	if !t.inFlight {
		delete(ml.timers, id)
		ml.mu.Unlock()
		if cleanup != nil {
			cleanup(t.state)
		}
		return
	}

	// In-flight: exactly one timer can be in-flight at a time (single
	// threaded semantics), so if we're on the mainloop thread this must
	// be a self-clear from within the timer's own callback.
	isSelf := ml.running && goroutineID() == ml.mainGoroutine
	t.stop = true
	if isSelf {
		ml.mu.Unlock()
		// The callback hasn't returned yet; fireOne will observe Stop,
		// remove the node and signal once it does. We run cleanup now
		// rather than stashing it on the node for later, since we
		// already know removal is guaranteed.
		if cleanup != nil {
			cleanup(t.state)
		}
		return
	}

	for !t.stopped {
		ml.timerCond().Wait()
	}
	ml.mu.Unlock()
	if cleanup != nil {
		cleanup(t.state)
	}
}

// timerCond lazily builds the condition variable backing the
// cross-thread removal wait (spec §4.1 removal race). Built lazily so
// New() doesn't need to special-case it.
func (ml *MainLoop) timerCond() *sync.Cond {
	ml.condOnce.Do(func() {
		ml.cond = sync.NewCond(&ml.mu)
	})
	return ml.cond
}

func (ml *MainLoop) nextTimerWait() time.Duration {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	now := ml.nowFn()
	found := false
	var soonest time.Time
	for _, t := range ml.timers {
		if t.inFlight {
			continue
		}
		if !found || t.whenDue.Before(soonest) {
			soonest = t.whenDue
			found = true
		}
	}
	if !found {
		return 24 * time.Hour
	}
	if d := soonest.Sub(now); d > 0 {
		return d
	}
	return 0
}

// fireDueTimers invokes every timer whose deadline has passed. Exactly
// one timer is in-flight at a time: due timers found in this pass are
// fired serially on the mainloop thread, never concurrently.
func (ml *MainLoop) fireDueTimers() {
	now := ml.Now()

	ml.mu.Lock()
	var due []*mainTimer
	for _, t := range ml.timers {
		if !t.inFlight && !t.whenDue.After(now) {
			t.inFlight = true
			due = append(due, t)
		}
	}
	ml.mu.Unlock()

	for _, t := range due {
		ml.fireOneMainTimer(t)
	}
}

func (ml *MainLoop) fireOneMainTimer(t *mainTimer) {
	keepRunning := false
	func() {
		defer func() {
			if r := recover(); r != nil {
				ml.log.Warn("main timer callback panicked", "recovered", r)
				keepRunning = false
			}
		}()
		keepRunning = t.cb(t.state)
	}()

	ml.mu.Lock()
	defer ml.mu.Unlock()
	t.inFlight = false

	if t.stop || !keepRunning || t.intervalMs == -1 {
		t.stopped = true
		delete(ml.timers, t.id)
		if ml.cond != nil {
			ml.cond.Broadcast()
		}
		return
	}
	t.whenDue = ml.nowFn().Add(time.Duration(t.intervalMs) * time.Millisecond)
}
