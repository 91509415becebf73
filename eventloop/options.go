// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import "time"

// loopOptions holds configuration options for Loop creation.
type loopOptions struct {
	defaultPollTimeout time.Duration
	logger             Logger
	onOverload         func(error)
}

// Option configures a Loop instance.
type Option interface {
	applyLoop(*loopOptions)
}

type optionFunc func(*loopOptions)

func (f optionFunc) applyLoop(o *loopOptions) { f(o) }

// WithDefaultPollTimeout sets the poll timeout used when there is no
// pending timer and no other scheduled work. Defaults to 3s, matching the
// idle keepalive granularity the HTTP layer expects.
func WithDefaultPollTimeout(d time.Duration) Option {
	return optionFunc(func(o *loopOptions) { o.defaultPollTimeout = d })
}

// WithLogger sets the diagnostic sink used to report recovered panics and
// other loop-internal failures that must never abort the loop.
func WithLogger(l Logger) Option {
	return optionFunc(func(o *loopOptions) { o.logger = l })
}

// WithOverloadHandler sets a callback invoked with the error whenever the
// loop's I/O poll fails (the same error is also logged), so callers can
// apply backpressure or emit metrics.
func WithOverloadHandler(fn func(error)) Option {
	return optionFunc(func(o *loopOptions) { o.onOverload = fn })
}

func resolveOptions(opts []Option) *loopOptions {
	cfg := &loopOptions{
		defaultPollTimeout: 3 * time.Second,
		logger:             NoOpLogger{},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyLoop(cfg)
	}
	return cfg
}
