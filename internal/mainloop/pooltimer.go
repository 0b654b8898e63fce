package mainloop

import (
	"log/slog"
	"reflect"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// PoolTimerFunc is a pool-timer callback; same keepRunning contract as
// TimerFunc, but it may run on any worker-pool goroutine.
type PoolTimerFunc func(state any) bool

// PoolTimerService runs SetPoolTimer callbacks on a bounded worker
// pool (spec §4.1's "equivalent surface but callbacks run on worker
// threads"). Concurrency is gated by an errgroup.Group with SetLimit,
// the same pattern the teacher uses to bound subsystem startup in
// cmd/gameserver/main.go, generalized here to gate callback execution
// instead of one-shot goroutines.
type PoolTimerService struct {
	log *slog.Logger
	eg  *errgroup.Group

	mu     sync.Mutex
	timers map[int64]*poolTimer
	nextID int64
}

type poolTimer struct {
	id       int64
	cb       PoolTimerFunc
	cbID     uintptr
	key      any
	state    any
	interval time.Duration

	stopCh chan struct{}

	executingMu sync.Mutex
	executing   bool
	doneCh      chan struct{} // replaced when a tick starts, closed when it finishes
}

func newPoolTimerService(log *slog.Logger, concurrency int) *PoolTimerService {
	eg := &errgroup.Group{}
	if concurrency > 0 {
		eg.SetLimit(concurrency)
	}
	return &PoolTimerService{
		log:    log,
		eg:     eg,
		timers: make(map[int64]*poolTimer),
	}
}

// SetPoolTimer registers a timer whose callback runs on the worker
// pool every intervalMs (after an initial delay of initialDelayMs).
func (ml *MainLoop) SetPoolTimer(cb PoolTimerFunc, state any, initialDelayMs, intervalMs int64, key any) TimerID {
	return ml.pool.set(cb, state, initialDelayMs, intervalMs, key)
}

// ClearPoolTimer removes pool timers matching cb's identity and key
// (nil key matches all). If wait is true, it blocks until any
// in-flight tick of each matched timer completes before returning.
func (ml *MainLoop) ClearPoolTimer(cb PoolTimerFunc, key any, wait bool) {
	ml.pool.clear(cb, key, wait)
}

func poolCBIdentity(cb PoolTimerFunc) uintptr {
	return reflect.ValueOf(cb).Pointer()
}

func (s *PoolTimerService) set(cb PoolTimerFunc, state any, initialDelayMs, intervalMs int64, key any) TimerID {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	pt := &poolTimer{
		id:       id,
		cb:       cb,
		cbID:     poolCBIdentity(cb),
		key:      key,
		state:    state,
		interval: time.Duration(intervalMs) * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	close(pt.doneCh) // starts "not executing"
	s.timers[id] = pt
	s.mu.Unlock()

	go s.run(pt, time.Duration(initialDelayMs)*time.Millisecond)
	return TimerID(id)
}

func (s *PoolTimerService) run(pt *poolTimer, initialDelay time.Duration) {
	timer := time.NewTimer(initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-pt.stopCh:
			return
		case <-timer.C:
		}

		if !s.tick(pt) {
			return
		}

		if pt.interval <= 0 {
			return
		}
		timer.Reset(pt.interval)
	}
}

// tick runs one invocation of pt's callback under the pool's
// concurrency gate. Returns false if the timer should stop (panic,
// or keepRunning == false).
func (s *PoolTimerService) tick(pt *poolTimer) bool {
	pt.executingMu.Lock()
	pt.executing = true
	pt.doneCh = make(chan struct{})
	done := pt.doneCh
	pt.executingMu.Unlock()

	keepRunning := true
	s.eg.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				s.log.Warn("pool timer callback panicked", "recovered", r)
				keepRunning = false
			}
			pt.executingMu.Lock()
			pt.executing = false
			pt.executingMu.Unlock()
			close(done)
		}()
		keepRunning = pt.cb(pt.state)
		return nil
	})

	<-done
	return keepRunning
}

func (s *PoolTimerService) clear(cb PoolTimerFunc, key any, wait bool) {
	cbID := poolCBIdentity(cb)

	s.mu.Lock()
	var targets []*poolTimer
	for id, pt := range s.timers {
		if pt.cbID == cbID && (key == nil || pt.key == key) {
			targets = append(targets, pt)
			delete(s.timers, id)
		}
	}
	s.mu.Unlock()

	for _, pt := range targets {
		close(pt.stopCh)
		if wait {
			pt.executingMu.Lock()
			done := pt.doneCh
			pt.executingMu.Unlock()
			<-done
		}
	}
}
