// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package eventloop implements a single-threaded, cooperative event loop:
// microtasks, timers, immediates and readiness-based I/O dispatch, run to
// quiescence on one goroutine. It is the scheduling primitive underneath
// package httpserver, but has no knowledge of HTTP.
//
// Every iteration of the loop (see Loop.tick) executes phases in a fixed
// order: drain microtasks, check for quiescence, compute a poll timeout,
// poll for I/O readiness, fire expired timers (draining microtasks after
// each), dispatch ready I/O handlers (draining microtasks after each), then
// run immediates queued up to and during this iteration (draining
// microtasks after each). Only the poll step may block the goroutine; every
// other step is non-blocking bookkeeping.
package eventloop
