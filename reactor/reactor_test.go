// File: reactor/reactor_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-net/reactor"
)

// runLoop drives r on a background goroutine and returns a done channel.
func runLoop(r *reactor.Reactor) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		r.Loop()
		r.Close()
		close(done)
	}()
	return done
}

func TestSafeCallRunsOnLoopThread(t *testing.T) {
	r := reactor.New(0)
	got := make(chan int, 3)
	done := runLoop(r)

	for i := 1; i <= 3; i++ {
		i := i
		r.SafeCall(func() { got <- i })
	}
	for i := 1; i <= 3; i++ {
		select {
		case v := <-got:
			assert.Equal(t, i, v, "tasks keep submission order")
		case <-time.After(2 * time.Second):
			t.Fatal("task never ran")
		}
	}
	r.Exit()
	<-done
}

func TestExitIsIdempotent(t *testing.T) {
	r := reactor.New(0)
	done := runLoop(r)
	assert.False(t, r.Exited())
	r.Exit()
	r.Exit()
	assert.True(t, r.Exited())
	<-done
}

func TestTimersFireInDeadlineOrder(t *testing.T) {
	r := reactor.New(0)
	var order []string
	r.RunAfter(60, func() { order = append(order, "late") }, 0)
	r.RunAfter(20, func() { order = append(order, "early") }, 0)
	r.RunAfter(40, func() { order = append(order, "mid") }, 0)
	r.RunAfter(100, r.Exit, 0)

	done := runLoop(r)
	<-done
	assert.Equal(t, []string{"early", "mid", "late"}, order)
}

func TestCancelPreventsFiring(t *testing.T) {
	r := reactor.New(0)
	fired := false
	id := r.RunAfter(30, func() { fired = true }, 0)
	require.True(t, id.Valid())
	assert.True(t, r.Cancel(id))
	assert.False(t, r.Cancel(id), "second cancel reports absence")
	r.RunAfter(80, r.Exit, 0)

	done := runLoop(r)
	<-done
	assert.False(t, fired)
}

func TestRepeatingTimerKeepsStableID(t *testing.T) {
	r := reactor.New(0)
	var count int
	var id reactor.TimerID
	id = r.RunAfter(10, func() {
		count++
		if count == 3 {
			// the stable id still cancels after multiple occurrences
			assert.True(t, r.Cancel(id))
			r.RunAfter(60, r.Exit, 0)
		}
	}, 15)
	require.True(t, id.Valid())

	done := runLoop(r)
	<-done
	assert.Equal(t, 3, count, "no occurrence after cancel")
}

func TestCancelDuringFiringStopsRepetition(t *testing.T) {
	r := reactor.New(0)
	var count int
	var id reactor.TimerID
	id = r.RunAfter(10, func() {
		count++
		r.Cancel(id)
	}, 10)
	r.RunAfter(80, r.Exit, 0)

	done := runLoop(r)
	<-done
	assert.Equal(t, 1, count)
}

func TestTimerAfterExitReturnsZeroID(t *testing.T) {
	r := reactor.New(0)
	done := runLoop(r)
	r.Exit()
	<-done
	id := r.RunAfter(10, func() {}, 0)
	assert.False(t, id.Valid())
}

func TestPanickingTimerDoesNotKillLoop(t *testing.T) {
	r := reactor.New(0)
	survived := false
	r.RunAfter(10, func() { panic("boom") }, 0)
	r.RunAfter(40, func() { survived = true; r.Exit() }, 0)

	done := runLoop(r)
	<-done
	assert.True(t, survived)
}

func TestIdleFiresAndRecurs(t *testing.T) {
	if testing.Short() {
		t.Skip("idle sweep runs on a 1s cadence")
	}
	r := reactor.New(0)
	var fires int32
	r.RegisterIdle(1, func() { atomic.AddInt32(&fires, 1) })
	r.RunAfter(3500, r.Exit, 0)

	done := runLoop(r)
	<-done
	// re-stamps advance by the timeout, so the callback recurs once per
	// second regardless of where each sweep lands relative to the deadline
	assert.GreaterOrEqual(t, atomic.LoadInt32(&fires), int32(3))
}

func TestIdleUpdateDefersExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("idle sweep runs on a 1s cadence")
	}
	r := reactor.New(0)
	var fires int32
	id := r.RegisterIdle(2, func() { atomic.AddInt32(&fires, 1) })
	// refresh at 1.5s: the 2s timeout restarts, so nothing fires before exit
	r.RunAfter(1500, func() { r.UpdateIdle(id) }, 0)
	r.RunAfter(3000, r.Exit, 0)

	done := runLoop(r)
	<-done
	assert.EqualValues(t, 0, atomic.LoadInt32(&fires))
}

func TestRemoveIdleStopsCallbacks(t *testing.T) {
	if testing.Short() {
		t.Skip("idle sweep runs on a 1s cadence")
	}
	r := reactor.New(0)
	var fires int32
	id := r.RegisterIdle(1, func() { atomic.AddInt32(&fires, 1) })
	r.RunAfter(100, func() { r.RemoveIdle(id) }, 0)
	r.RunAfter(2200, r.Exit, 0)

	done := runLoop(r)
	<-done
	assert.EqualValues(t, 0, atomic.LoadInt32(&fires))
}

func TestPoolAllocRoundRobin(t *testing.T) {
	p := reactor.NewPool(3)
	require.Equal(t, 3, p.Size())
	first := p.Alloc()
	second := p.Alloc()
	third := p.Alloc()
	assert.NotSame(t, first, second)
	assert.NotSame(t, second, third)
	assert.Same(t, first, p.Alloc(), "allocation cycles")

	done := make(chan struct{})
	go func() {
		p.Loop()
		close(done)
	}()
	p.Exit()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool loop did not exit")
	}
}

func TestReactorAllocReturnsSelf(t *testing.T) {
	r := reactor.New(0)
	var alloc reactor.Allocator = r
	assert.Same(t, r, alloc.Alloc())
	done := runLoop(r)
	r.Exit()
	<-done
}

func TestBoundedTaskQueueDropsOverflow(t *testing.T) {
	r := reactor.New(1)
	// never start the loop: the first task occupies the single slot and the
	// second must be dropped rather than block
	ran := 0
	r.SafeCall(func() { ran++ })
	r.SafeCall(func() { ran++ })
	r.LoopOnce(0)
	assert.Equal(t, 1, ran)
	r.Exit()
	r.LoopOnce(0)
	r.Close()
}
