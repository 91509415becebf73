// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import "sync"

// DeferredState mirrors the settlement states of a promise-like value.
type DeferredState int32

const (
	Pending DeferredState = iota
	Resolved
	Rejected
)

// Deferred is a one-shot completion token, settled exactly once from the
// loop goroutine (or from a recovering wrapper), and observed via OnSettle.
// It is the concrete type a handler returns to signal asynchronous
// completion: the handler either resolves one it created with NewDeferred
// directly, or returns one obtained from Loop.Promisify.
//
// Deferred deliberately does not implement the full promise combinator
// surface (All/Race/Any/AllSettled) of a JavaScript-style promise library:
// the server only ever needs single-consumer, single-producer completion
// signalling for one handler invocation at a time.
type Deferred struct {
	mu       sync.Mutex
	state    DeferredState
	err      error
	settled  chan struct{}
	onSettle []func(error)
}

// NewDeferred returns an unsettled Deferred.
func NewDeferred() *Deferred {
	return &Deferred{settled: make(chan struct{})}
}

// ResolvedDeferred returns an already-settled, successful Deferred.
func ResolvedDeferred() *Deferred {
	d := NewDeferred()
	d.Resolve()
	return d
}

// RejectedDeferred returns an already-settled, failed Deferred.
func RejectedDeferred(err error) *Deferred {
	d := NewDeferred()
	d.Reject(err)
	return d
}

func (d *Deferred) settle(state DeferredState, err error) {
	d.mu.Lock()
	if d.state != Pending {
		d.mu.Unlock()
		return
	}
	d.state = state
	d.err = err
	callbacks := d.onSettle
	d.onSettle = nil
	d.mu.Unlock()
	close(d.settled)
	for _, fn := range callbacks {
		fn(err)
	}
}

// Resolve settles the Deferred successfully. Subsequent calls to Resolve or
// Reject are no-ops: only the first settlement takes effect.
func (d *Deferred) Resolve() { d.settle(Resolved, nil) }

// Reject settles the Deferred with a failure.
func (d *Deferred) Reject(err error) {
	if err == nil {
		err = ErrLoopTerminated
	}
	d.settle(Rejected, err)
}

// State returns the current settlement state.
func (d *Deferred) State() DeferredState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Err returns the rejection cause, or nil if resolved or still pending.
func (d *Deferred) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Done returns a channel closed once the Deferred settles.
func (d *Deferred) Done() <-chan struct{} { return d.settled }

// OnSettle schedules fn to run once the Deferred settles, with the
// rejection cause (nil on success). If already settled, fn runs
// synchronously. Callers that need fn to run on the loop goroutine must
// arrange that themselves, typically via Loop.ScheduleMicrotask.
func (d *Deferred) OnSettle(fn func(err error)) {
	d.mu.Lock()
	if d.state == Pending {
		d.onSettle = append(d.onSettle, fn)
		d.mu.Unlock()
		return
	}
	err := d.err
	d.mu.Unlock()
	fn(err)
}
