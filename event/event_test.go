package event

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func waitForWaiters(t *testing.T, e *Event, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return e.Waiting() == n },
		time.Second, time.Millisecond, "expected %d registered waiters", n)
}

func TestBroadcast_WakesAllRegisteredWaiters(t *testing.T) {
	const n = 8
	e := New()

	var woken atomic.Int32
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := e.Wait(); err != nil {
				return err
			}
			woken.Add(1)
			return nil
		})
	}
	waitForWaiters(t, e, n)

	require.NoError(t, e.Broadcast())

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for waiters to wake")
	}
	assert.EqualValues(t, n, woken.Load())
	assert.Zero(t, e.Waiting())
}

func TestBroadcast_NoRetroactiveWake(t *testing.T) {
	e := New()
	require.NoError(t, e.Broadcast())

	late := make(chan error, 1)
	go func() { late <- e.Wait() }()
	waitForWaiters(t, e, 1)

	select {
	case <-late:
		t.Fatal("waiter registered after broadcast was woken by it")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, e.Broadcast())
	select {
	case err := <-late:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for second broadcast")
	}
}

func TestBroadcast_EmptyIsNoop(t *testing.T) {
	e := New()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Broadcast()
		_ = e.Broadcast()
	}()
	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("broadcast with no waiters blocked")
	}
	assert.Zero(t, e.Waiting())
}

func TestBroadcast_InsertionOrder(t *testing.T) {
	e := New()
	for i := 0; i < 3; i++ {
		go func() { _ = e.Wait() }()
		waitForWaiters(t, e, i+1)
	}

	e.mu.Lock()
	ids := make([]uint32, 0, len(e.waiters))
	for _, s := range e.waiters {
		ids = append(ids, s.id)
	}
	e.mu.Unlock()
	assert.Equal(t, []uint32{1, 2, 3}, ids)

	require.NoError(t, e.Broadcast())
	assert.Zero(t, e.Waiting())
}

func TestWait_SlotsAreRecycled(t *testing.T) {
	e := New(WithCapacity(1))
	for round := 0; round < 5; round++ {
		done := make(chan error, 1)
		go func() { done <- e.Wait() }()
		waitForWaiters(t, e, 1)
		require.NoError(t, e.Broadcast())
		select {
		case err := <-done:
			require.NoError(t, err, "round %d", round)
		case <-time.After(time.Second):
			t.Fatalf("round %d: timeout", round)
		}
		require.Eventually(t, func() bool {
			e.mu.Lock()
			defer e.mu.Unlock()
			return e.inUse == 0
		}, time.Second, time.Millisecond)
	}
}

func TestWait_OutOfMemory(t *testing.T) {
	e := New(WithCapacity(1))
	go func() { _ = e.Wait() }()
	waitForWaiters(t, e, 1)

	require.ErrorIs(t, e.Wait(), ErrOutOfMemory)
	assert.Equal(t, 1, e.Waiting(), "failed wait must not register")

	require.NoError(t, e.Broadcast())
}

func TestDestroy(t *testing.T) {
	e := New()
	e.Destroy()
	e.Destroy()
	assert.ErrorIs(t, e.Wait(), ErrDestroyed)
	assert.ErrorIs(t, e.Broadcast(), ErrDestroyed)
	assert.Zero(t, e.Waiting())
}
