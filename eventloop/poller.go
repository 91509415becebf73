// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

// IOEvents is a bitmask of readiness conditions reported by a poller.
type IOEvents uint32

const (
	EventRead IOEvents = 1 << iota
	EventWrite
	EventError
	EventHangup
)

// IOCallback receives the readiness events observed for a registered file
// descriptor. It is invoked on the loop goroutine, outside of any poller
// lock, so it may safely call back into the Loop.
type IOCallback func(IOEvents)

// readyIO pairs a fired callback with the events that woke it. The loop,
// not the poller, is responsible for invoking these one at a time and
// draining microtasks after each, per the mandated phase order.
type readyIO struct {
	cb     IOCallback
	events IOEvents
}

// poller abstracts the OS-specific readiness mechanism (epoll on Linux). It
// is deliberately narrow: the loop owns all scheduling decisions, the
// poller only reports which registered descriptors are ready.
type poller interface {
	Init() error
	Close() error
	RegisterFD(fd int, events IOEvents, cb IOCallback) error
	UnregisterFD(fd int) error
	ModifyFD(fd int, events IOEvents) error
	// PollIO blocks for up to timeoutMs (a negative value blocks
	// indefinitely, a value of 0 returns immediately), returning the set
	// of descriptors observed ready. It never invokes callbacks itself.
	PollIO(timeoutMs int) ([]readyIO, error)
}

var (
	ErrFDOutOfRange        = wrapPollerErr("file descriptor out of supported range")
	ErrFDAlreadyRegistered = wrapPollerErr("file descriptor already registered")
	ErrFDNotRegistered     = wrapPollerErr("file descriptor not registered")
	ErrPollerClosed        = wrapPollerErr("poller closed")
)

type pollerError string

func (e pollerError) Error() string { return "eventloop: " + string(e) }

func wrapPollerErr(msg string) error { return pollerError(msg) }
