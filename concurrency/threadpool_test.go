// File: concurrency/threadpool_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-net/concurrency"
)

func TestPoolRunsAllTasks(t *testing.T) {
	tp := concurrency.NewThreadPool(4, 0)
	var n int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		ok := tp.AddTask(func() {
			atomic.AddInt64(&n, 1)
			wg.Done()
		})
		require.True(t, ok)
	}
	wg.Wait()
	tp.Exit()
	tp.Join()
	assert.Equal(t, int64(100), atomic.LoadInt64(&n))
}

func TestBoundedQueueRejectsWhenFull(t *testing.T) {
	tp := concurrency.NewThreadPool(1, 2)
	defer func() {
		tp.Exit()
		tp.Join()
	}()

	block := make(chan struct{})
	started := make(chan struct{})
	require.True(t, tp.AddTask(func() {
		close(started)
		<-block
	}))
	<-started // worker busy, queue now empty

	require.True(t, tp.AddTask(func() {}))
	require.True(t, tp.AddTask(func() {}))
	assert.False(t, tp.AddTask(func() {}), "third queued task must be rejected")
	close(block)
}

func TestAddTaskAfterExitFails(t *testing.T) {
	tp := concurrency.NewThreadPool(2, 0)
	tp.Exit()
	tp.Join()
	assert.False(t, tp.AddTask(func() {}))
}

func TestPanickingTaskDoesNotKillWorker(t *testing.T) {
	tp := concurrency.NewThreadPool(1, 0)
	defer func() {
		tp.Exit()
		tp.Join()
	}()

	require.True(t, tp.AddTask(func() { panic("boom") }))

	done := make(chan struct{})
	require.True(t, tp.AddTask(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after task panic")
	}
}
