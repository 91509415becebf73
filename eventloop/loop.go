// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Task is a unit of work the loop executes on its own goroutine.
type Task func()

// TimerID identifies an armed timer for cancellation purposes.
type TimerID uint64

type timerEntry struct {
	id       TimerID
	deadline time.Time
	interval time.Duration // zero for one-shot
	task     Task
	canceled atomic.Bool
}

// timerHeap is a container/heap.Interface min-heap ordered by deadline,
// with equal deadlines ordered by timer id (arming order).
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if !h[i].deadline.Equal(h[j].deadline) {
		return h[i].deadline.Before(h[j].deadline)
	}
	return h[i].id < h[j].id
}
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x any)         { *h = append(*h, x.(*timerEntry)) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Loop is a single-threaded, cooperative event loop. All scheduling state
// (microtasks, immediates, timers, registered descriptors) is only ever
// mutated on the loop goroutine, except where explicitly noted as safe to
// call from any goroutine (Submit, ScheduleMicrotask, Ref/Unref, timer
// cancellation, RegisterFD/UnregisterFD/ModifyFD).
type Loop struct {
	opts *loopOptions

	state fastState

	mu          sync.Mutex // guards microtasks, immediates, externalQ
	microtasks  []Task
	immediates  []Task
	externalQ   []Task

	timerMu    sync.Mutex
	timers     timerHeap
	nextTimer  uint64

	poller poller
	wakeFd int

	refCount atomic.Int64

	tickAnchor   time.Time
	tickAnchorMu sync.RWMutex

	loopGoroutine atomic.Bool
	runMu         sync.Mutex
	loopDone      chan struct{}
	stopOnce      sync.Once
}

// New constructs a Loop ready to Run. The returned Loop owns an OS-level
// poller (epoll on Linux) which must eventually be released by letting Run
// return.
func New(opts ...Option) (*Loop, error) {
	l := &Loop{
		opts:     resolveOptions(opts),
		poller:   newPoller(),
		loopDone: make(chan struct{}),
		wakeFd:   -1,
	}
	if err := l.poller.Init(); err != nil {
		return nil, fmt.Errorf("eventloop: init poller: %w", err)
	}
	fd, err := createWakeFd()
	if err != nil {
		_ = l.poller.Close()
		return nil, fmt.Errorf("eventloop: create wake fd: %w", err)
	}
	l.wakeFd = fd
	if err := l.poller.RegisterFD(fd, EventRead, func(IOEvents) { drainWakeFd(fd) }); err != nil {
		_ = l.poller.Close()
		closeWakeFd(fd)
		return nil, fmt.Errorf("eventloop: register wake fd: %w", err)
	}
	return l, nil
}

// Ref increments the loop's liveness reference count. Every live
// connection, listening socket, and armed timer (including an interval,
// for its entire lifetime) holds exactly one ref; Run will not return from
// quiescence while refCount is positive.
func (l *Loop) Ref() { l.refCount.Add(1) }

// Unref decrements the liveness reference count, and wakes the loop so a
// pending quiescence check can observe the change promptly.
func (l *Loop) Unref() {
	l.refCount.Add(-1)
	l.wake()
}

// RefCount reports the current liveness reference count.
func (l *Loop) RefCount() int64 { return l.refCount.Load() }

func (l *Loop) log(level LogLevel, msg string, err error) {
	l.opts.logger.Log(LogEntry{Level: level, Message: msg, Err: err})
}

func (l *Loop) wake() {
	if l.wakeFd >= 0 {
		signalWakeFd(l.wakeFd)
	}
}

// CurrentTime returns the monotonic instant the loop considers "now" for
// the duration of the current tick. It only advances once per iteration,
// so multiple timers scheduled within the same callback see a consistent
// clock, matching the teacher's tick-anchor idiom.
func (l *Loop) CurrentTime() time.Time {
	l.tickAnchorMu.RLock()
	defer l.tickAnchorMu.RUnlock()
	if l.tickAnchor.IsZero() {
		return time.Now()
	}
	return l.tickAnchor
}

func (l *Loop) setTickAnchor(t time.Time) {
	l.tickAnchorMu.Lock()
	l.tickAnchor = t
	l.tickAnchorMu.Unlock()
}

// --- Microtasks ---

// NextTick schedules fn as a microtask: it runs after the current
// callback/phase completes and before the loop advances to its next phase.
// Safe to call from any goroutine, though typically called from the loop
// goroutine itself (e.g. from within a handler).
func (l *Loop) NextTick(fn Task) error {
	if !l.state.CanAcceptWork() {
		return ErrLoopTerminated
	}
	l.mu.Lock()
	l.microtasks = append(l.microtasks, fn)
	l.mu.Unlock()
	l.wake()
	return nil
}

// ScheduleMicrotask is an alias of NextTick, named for callers integrating
// a promise-style executor.
func (l *Loop) ScheduleMicrotask(fn Task) error { return l.NextTick(fn) }

func (l *Loop) drainMicrotasks() {
	for {
		l.mu.Lock()
		if len(l.microtasks) == 0 {
			l.mu.Unlock()
			return
		}
		batch := l.microtasks
		l.microtasks = nil
		l.mu.Unlock()

		for _, t := range batch {
			l.safeExecute(t)
		}
	}
}

// --- Immediates ---

// SetImmediate schedules fn to run once, after I/O dispatch in the current
// (or, if none is in flight, the next) iteration. Returns a cancel
// function; calling it after fn has already started running is a no-op.
func (l *Loop) SetImmediate(fn Task) (cancel func()) {
	var canceled atomic.Bool
	wrapped := func() {
		if !canceled.Load() {
			fn()
		}
	}
	l.mu.Lock()
	l.immediates = append(l.immediates, wrapped)
	l.mu.Unlock()
	l.wake()
	return func() { canceled.Store(true) }
}

func (l *Loop) runImmediates() {
	for {
		l.mu.Lock()
		if len(l.immediates) == 0 {
			l.mu.Unlock()
			return
		}
		task := l.immediates[0]
		l.immediates = l.immediates[1:]
		l.mu.Unlock()

		l.safeExecute(task)
		l.drainMicrotasks()
	}
}

func (l *Loop) hasPendingImmediates() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.immediates) != 0
}

// --- Timers ---

// SetTimeout arms a one-shot timer, holding one ref until it fires or is
// canceled. Returns a cancel function; exactly one of {cancel, fire} takes
// effect.
func (l *Loop) SetTimeout(d time.Duration, fn Task) func() {
	return l.armTimer(d, 0, fn)
}

// SetInterval arms a repeating timer. A single ref is held for the
// interval's entire lifetime, not re-acquired on every firing.
func (l *Loop) SetInterval(d time.Duration, fn Task) func() {
	if d <= 0 {
		d = time.Millisecond
	}
	return l.armTimer(d, d, fn)
}

func (l *Loop) armTimer(delay, interval time.Duration, fn Task) func() {
	if delay < 0 {
		delay = 0
	}
	l.Ref()

	l.timerMu.Lock()
	l.nextTimer++
	entry := &timerEntry{
		id:       TimerID(l.nextTimer),
		deadline: l.CurrentTime().Add(delay),
		interval: interval,
		task:     fn,
	}
	heap.Push(&l.timers, entry)
	l.timerMu.Unlock()
	l.wake()

	var unrefOnce sync.Once
	return func() {
		if entry.canceled.CompareAndSwap(false, true) {
			unrefOnce.Do(l.Unref)
		}
	}
}

func (l *Loop) nextTimerDeadline() (time.Time, bool) {
	l.timerMu.Lock()
	defer l.timerMu.Unlock()
	for len(l.timers) > 0 {
		top := l.timers[0]
		if top.canceled.Load() {
			heap.Pop(&l.timers)
			continue
		}
		return top.deadline, true
	}
	return time.Time{}, false
}

// runTimers fires every timer whose deadline has passed, in deadline
// order, draining microtasks after each.
func (l *Loop) runTimers(now time.Time) {
	for {
		l.timerMu.Lock()
		if len(l.timers) == 0 {
			l.timerMu.Unlock()
			return
		}
		top := l.timers[0]
		if top.canceled.Load() {
			heap.Pop(&l.timers)
			l.timerMu.Unlock()
			continue
		}
		if top.deadline.After(now) {
			l.timerMu.Unlock()
			return
		}
		heap.Pop(&l.timers)
		l.timerMu.Unlock()

		l.safeExecute(top.task)

		if top.interval > 0 && !top.canceled.Load() {
			top.deadline = now.Add(top.interval)
			l.timerMu.Lock()
			heap.Push(&l.timers, top)
			l.timerMu.Unlock()
		} else {
			if top.canceled.CompareAndSwap(false, true) {
				l.Unref()
			}
		}

		l.drainMicrotasks()
	}
}

// --- External task submission ---

// Submit enqueues fn to run on the loop goroutine, waking the loop if it is
// currently blocked in PollIO. Safe to call from any goroutine.
func (l *Loop) Submit(fn Task) error {
	if !l.state.CanAcceptWork() {
		return ErrLoopTerminated
	}
	l.mu.Lock()
	l.externalQ = append(l.externalQ, fn)
	l.mu.Unlock()
	l.wake()
	return nil
}

func (l *Loop) drainExternal() {
	l.mu.Lock()
	if len(l.externalQ) == 0 {
		l.mu.Unlock()
		return
	}
	batch := l.externalQ
	l.externalQ = nil
	l.mu.Unlock()
	for _, t := range batch {
		l.safeExecute(t)
	}
}

// Promisify runs fn on a new goroutine and settles the returned Deferred on
// the loop goroutine once fn returns, recovering any panic into a
// rejection. This is the bridge used when a handler needs to perform
// blocking work without stalling the loop. The loop holds one ref until the
// Deferred is settled, so Run does not quiesce while fn is still running.
func (l *Loop) Promisify(ctx context.Context, fn func(context.Context) error) *Deferred {
	d := NewDeferred()
	l.Ref()
	go func() {
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = &PanicError{Value: r}
				}
			}()
			err = fn(ctx)
		}()
		settle := func() {
			defer l.Unref()
			if err != nil {
				d.Reject(err)
			} else {
				d.Resolve()
			}
		}
		if subErr := l.Submit(settle); subErr != nil {
			// Loop already terminated: settle directly so callers
			// awaiting Done() are not left hanging.
			settle()
		}
	}()
	return d
}

// safeExecute runs t, recovering a panic into a logged diagnostic so a
// misbehaving task never aborts the loop.
func (l *Loop) safeExecute(t Task) {
	if t == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.log(LevelError, "recovered panic from task", &PanicError{Value: r})
		}
	}()
	t()
}

// --- FD registration ---

func (l *Loop) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	return l.poller.RegisterFD(fd, events, cb)
}

func (l *Loop) UnregisterFD(fd int) error {
	return l.poller.UnregisterFD(fd)
}

func (l *Loop) ModifyFD(fd int, events IOEvents) error {
	return l.poller.ModifyFD(fd, events)
}

// --- Run loop ---

// Run drives the loop until it reaches quiescence (ref count <= 0 and no
// pending microtasks/immediates), ctx is canceled, or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	if !l.loopGoroutine.CompareAndSwap(false, true) {
		return ErrLoopAlreadyRunning
	}
	defer l.loopGoroutine.Store(false)

	if !l.state.TryTransition(StateAwake, StateRunning) {
		return ErrLoopAlreadyRunning
	}
	defer close(l.loopDone)

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			l.wake()
		case <-watchDone:
		}
	}()

	for {
		if ctx.Err() != nil {
			l.shutdown()
			return ctx.Err()
		}
		if l.state.Load() == StateTerminating {
			l.shutdown()
			return nil
		}

		l.tick()

		if l.isQuiescent() {
			l.shutdown()
			return nil
		}
	}
}

func (l *Loop) isQuiescent() bool {
	l.mu.Lock()
	pending := len(l.microtasks) != 0 || len(l.immediates) != 0
	l.mu.Unlock()
	return !pending && l.refCount.Load() <= 0
}

// tick executes exactly one iteration of the mandated phase order:
//
//  1. drain microtasks to empty
//  2. quiescence check (handled by the caller, Run)
//  3. compute the poll timeout
//  4. poll for I/O readiness
//  5. fire expired timers in deadline order, draining microtasks after each
//  6. dispatch I/O-ready handlers, draining microtasks after each
//  7. run immediates queued before/during this iteration, draining
//     microtasks after each
func (l *Loop) tick() {
	l.setTickAnchor(time.Now())

	// 1: drain microtasks
	l.drainExternal()
	l.drainMicrotasks()

	if l.isQuiescent() {
		return
	}

	// 3: compute poll timeout
	timeoutMs := l.calculateTimeout()

	// 4: poll I/O
	l.state.TryTransition(StateRunning, StateSleeping)
	ready, err := l.poller.PollIO(timeoutMs)
	l.state.TryTransition(StateSleeping, StateRunning)
	if err != nil {
		l.log(LevelError, "poll error", err)
		if l.opts.onOverload != nil {
			l.opts.onOverload(err)
		}
	}

	now := l.CurrentTime()

	// 5: fire expired timers
	l.runTimers(now)

	// 6: dispatch I/O-ready handlers
	for _, r := range ready {
		if r.cb != nil {
			l.safeExecute(func() { r.cb(r.events) })
		}
		l.drainMicrotasks()
	}

	// 7: run immediates
	l.runImmediates()
}

func (l *Loop) calculateTimeout() int {
	if l.hasPendingImmediates() {
		return 0
	}
	if deadline, ok := l.nextTimerDeadline(); ok {
		d := deadline.Sub(l.CurrentTime())
		if d <= 0 {
			return 0
		}
		ms := d.Milliseconds()
		if d%time.Millisecond != 0 {
			ms++
		}
		if ms > 10000 {
			ms = 10000
		}
		return int(ms)
	}
	return int(l.opts.defaultPollTimeout.Milliseconds())
}

// Stop requests the loop terminate at the start of its next iteration,
// regardless of quiescence. It does not wait for Run to return.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.state.Store(StateTerminating)
		l.wake()
	})
}

// Done returns a channel closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.loopDone }

func (l *Loop) shutdown() {
	l.state.Store(StateTerminated)
	_ = l.poller.Close()
	closeWakeFd(l.wakeFd)
}
