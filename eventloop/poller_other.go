// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build !linux

package eventloop

import (
	"sync"
	"time"
)

// pollPoller is a portable, non-epoll fallback used on platforms without a
// readiness multiplexer wired up (see poller_linux.go for the primary,
// production target). It keeps the registration bookkeeping but does not
// detect readiness: PollIO only sleeps for the timeout and reports no ready
// descriptors, so registered callbacks never fire on these platforms.
type pollPoller struct {
	mu     sync.Mutex
	fds    map[int]fdInfo
	closed bool
}

type fdInfo struct {
	callback IOCallback
	events   IOEvents
}

func newPoller() poller { return &pollPoller{fds: make(map[int]fdInfo)} }

func (p *pollPoller) Init() error { return nil }

func (p *pollPoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *pollPoller) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPollerClosed
	}
	if _, ok := p.fds[fd]; ok {
		return ErrFDAlreadyRegistered
	}
	p.fds[fd] = fdInfo{callback: cb, events: events}
	return nil
}

func (p *pollPoller) UnregisterFD(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.fds[fd]; !ok {
		return ErrFDNotRegistered
	}
	delete(p.fds, fd)
	return nil
}

func (p *pollPoller) ModifyFD(fd int, events IOEvents) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.fds[fd]
	if !ok {
		return ErrFDNotRegistered
	}
	info.events = events
	p.fds[fd] = info
	return nil
}

// PollIO blocks for at most timeoutMs before returning zero ready
// descriptors; real readiness detection requires the epoll backend.
func (p *pollPoller) PollIO(timeoutMs int) ([]readyIO, error) {
	if timeoutMs < 0 {
		timeoutMs = 1000
	}
	time.Sleep(time.Duration(timeoutMs) * time.Millisecond)
	return nil, nil
}
