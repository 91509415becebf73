// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux

package eventloop

import "golang.org/x/sys/unix"

// createWakeFd creates an eventfd used to interrupt a blocked epoll_wait
// from another goroutine, e.g. when a task is submitted while the loop is
// sleeping.
func createWakeFd() (int, error) {
	return unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
}

func closeWakeFd(fd int) {
	if fd >= 0 {
		_ = unix.Close(fd)
	}
}

func signalWakeFd(fd int) {
	var buf [8]byte
	buf[7] = 1
	_, _ = unix.Write(fd, buf[:])
}

func drainWakeFd(fd int) {
	var buf [8]byte
	for {
		if _, err := unix.Read(fd, buf[:]); err != nil {
			return
		}
	}
}
