// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux

package eventloop

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// maxFDs bounds direct-indexed descriptor lookup; registering a descriptor
// at or above this value fails with ErrFDOutOfRange.
const maxFDs = 65536

type fdInfo struct {
	callback IOCallback
	events   IOEvents
	active   bool
}

// epollPoller is an epoll(7)-backed poller. Registration state lives in a
// fixed array for O(1) lookup; PollIO holds no lock while waiting in
// epoll_wait (only a read lock while collecting the ready callbacks),
// relying on a version counter to detect (and discard) events made stale by
// concurrent registration changes.
type epollPoller struct {
	epfd     int
	fdMu     sync.RWMutex
	fds      [maxFDs]fdInfo
	version  atomic.Uint64
	closed   atomic.Bool
	eventBuf [256]unix.EpollEvent
}

func newPoller() poller { return &epollPoller{epfd: -1} }

func (p *epollPoller) Init() error {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	p.epfd = fd
	return nil
}

func (p *epollPoller) Close() error {
	p.closed.Store(true)
	if p.epfd >= 0 {
		return unix.Close(p.epfd)
	}
	return nil
}

func (p *epollPoller) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	if fd < 0 || fd >= maxFDs {
		return ErrFDOutOfRange
	}

	p.fdMu.Lock()
	if p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrFDAlreadyRegistered
	}
	p.fds[fd] = fdInfo{callback: cb, events: events, active: true}
	p.version.Add(1)
	p.fdMu.Unlock()

	ev := &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		p.fdMu.Lock()
		p.fds[fd] = fdInfo{}
		p.fdMu.Unlock()
		return err
	}
	return nil
}

func (p *epollPoller) UnregisterFD(fd int) error {
	if fd < 0 || fd >= maxFDs {
		return ErrFDOutOfRange
	}
	p.fdMu.Lock()
	if !p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrFDNotRegistered
	}
	p.fds[fd] = fdInfo{}
	p.version.Add(1)
	p.fdMu.Unlock()
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) ModifyFD(fd int, events IOEvents) error {
	if fd < 0 || fd >= maxFDs {
		return ErrFDOutOfRange
	}
	p.fdMu.Lock()
	if !p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrFDNotRegistered
	}
	p.fds[fd].events = events
	p.version.Add(1)
	p.fdMu.Unlock()
	ev := &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev)
}

func (p *epollPoller) PollIO(timeoutMs int) ([]readyIO, error) {
	if p.closed.Load() {
		return nil, ErrPollerClosed
	}

	v := p.version.Load()

	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	if p.version.Load() != v {
		// Registration changed mid-wait; the event set may reference
		// descriptors that were unregistered. Drop this batch rather
		// than risk invoking a stale callback; the next iteration's
		// poll will observe current readiness.
		return nil, nil
	}

	return p.dispatchEvents(n), nil
}

func (p *epollPoller) dispatchEvents(n int) []readyIO {
	batch := make([]readyIO, 0, n)

	p.fdMu.RLock()
	for i := 0; i < n; i++ {
		ev := p.eventBuf[i]
		fd := int(ev.Fd)
		if fd < 0 || fd >= maxFDs || !p.fds[fd].active {
			continue
		}
		batch = append(batch, readyIO{cb: p.fds[fd].callback, events: epollToEvents(ev.Events)})
	}
	p.fdMu.RUnlock()

	return batch
}

func eventsToEpoll(events IOEvents) uint32 {
	var e uint32
	if events&EventRead != 0 {
		e |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func epollToEvents(e uint32) IOEvents {
	var events IOEvents
	if e&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if e&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if e&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if e&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		events |= EventHangup
	}
	return events
}
