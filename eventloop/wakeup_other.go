// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build !linux

package eventloop

import "os"

func createWakeFd() (int, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return -1, err
	}
	_ = w
	return int(r.Fd()), nil
}

func closeWakeFd(int)    {}
func signalWakeFd(int)   {}
func drainWakeFd(fd int) {}
