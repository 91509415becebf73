// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import "sync/atomic"

// LoopState models the lifecycle of a Loop. Values are assigned
// sequentially (iota) in the order declared below.
type LoopState uint64

const (
	StateAwake LoopState = iota
	StateTerminated
	StateSleeping
	StateRunning
	StateTerminating
)

func (s LoopState) String() string {
	switch s {
	case StateAwake:
		return "awake"
	case StateTerminated:
		return "terminated"
	case StateSleeping:
		return "sleeping"
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// fastState is an atomic CAS-driven state machine for the loop's lifecycle.
type fastState struct {
	v atomic.Uint64
}

func (s *fastState) Load() LoopState {
	return LoopState(s.v.Load())
}

func (s *fastState) Store(to LoopState) {
	s.v.Store(uint64(to))
}

func (s *fastState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

func (s *fastState) CanAcceptWork() bool {
	switch s.Load() {
	case StateTerminated:
		return false
	default:
		return true
	}
}
