// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeferred_ResolveSettlesOnce(t *testing.T) {
	d := NewDeferred()
	assert.Equal(t, Pending, d.State())

	var calls atomic.Int32
	d.OnSettle(func(err error) { calls.Add(1) })

	d.Resolve()
	d.Resolve() // second call is a no-op
	d.Reject(errors.New("ignored"))

	assert.Equal(t, Resolved, d.State())
	assert.NoError(t, d.Err())
	assert.EqualValues(t, 1, calls.Load())

	select {
	case <-d.Done():
	default:
		t.Fatal("Done channel should be closed after settlement")
	}
}

func TestDeferred_RejectCarriesCause(t *testing.T) {
	d := NewDeferred()
	cause := errors.New("boom")
	d.Reject(cause)

	assert.Equal(t, Rejected, d.State())
	assert.Equal(t, cause, d.Err())
}

func TestDeferred_RejectWithNilErrorUsesSentinel(t *testing.T) {
	d := NewDeferred()
	d.Reject(nil)
	assert.ErrorIs(t, d.Err(), ErrLoopTerminated)
}

func TestDeferred_OnSettleAfterSettlementRunsSynchronously(t *testing.T) {
	d := ResolvedDeferred()

	var called bool
	d.OnSettle(func(err error) { called = true })
	assert.True(t, called)
}

func TestDeferred_RejectedDeferredConstructor(t *testing.T) {
	cause := errors.New("x")
	d := RejectedDeferred(cause)
	assert.Equal(t, Rejected, d.State())
	assert.Equal(t, cause, d.Err())
}

func TestDeferred_MultipleOnSettleCallbacksAllRun(t *testing.T) {
	d := NewDeferred()

	var a, b atomic.Bool
	d.OnSettle(func(error) { a.Store(true) })
	d.OnSettle(func(error) { b.Store(true) })

	d.Resolve()

	require.True(t, a.Load())
	require.True(t, b.Load())
}
