// File: concurrency/threadpool.go
// Package concurrency implements the worker thread pool used to offload
// blocking message handling from reactor threads.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The pool drains a FIFO task queue with a fixed set of worker goroutines.
// The queue is bounded when constructed with a positive capacity; AddTask
// reports rejection instead of blocking the producer.

package concurrency

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-net/api"
)

// ThreadPool executes tasks on a fixed number of worker goroutines.
type ThreadPool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	tasks    *queue.Queue
	capacity int // 0 means unbounded
	stopped  int32

	wg sync.WaitGroup

	// statistics
	totalTasks     int64
	completedTasks int64
}

// NewThreadPool starts numWorkers workers draining a queue of the given
// capacity (0 = unbounded). numWorkers <= 0 defaults to 1.
func NewThreadPool(numWorkers, capacity int) *ThreadPool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	tp := &ThreadPool{
		tasks:    queue.New(),
		capacity: capacity,
	}
	tp.cond = sync.NewCond(&tp.mu)
	tp.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go tp.worker(i)
	}
	return tp
}

// AddTask enqueues a task. It returns false when the pool has exited or the
// bounded queue is full.
func (tp *ThreadPool) AddTask(task api.Task) bool {
	if task == nil || atomic.LoadInt32(&tp.stopped) == 1 {
		return false
	}
	tp.mu.Lock()
	if atomic.LoadInt32(&tp.stopped) == 1 {
		tp.mu.Unlock()
		return false
	}
	if tp.capacity > 0 && tp.tasks.Length() >= tp.capacity {
		tp.mu.Unlock()
		return false
	}
	tp.tasks.Add(task)
	atomic.AddInt64(&tp.totalTasks, 1)
	tp.mu.Unlock()
	tp.cond.Signal()
	return true
}

// Exit stops accepting tasks and wakes all workers. Tasks still queued when
// Exit is called are discarded.
func (tp *ThreadPool) Exit() {
	if atomic.CompareAndSwapInt32(&tp.stopped, 0, 1) {
		tp.mu.Lock()
		for tp.tasks.Length() > 0 {
			tp.tasks.Remove()
		}
		tp.mu.Unlock()
		tp.cond.Broadcast()
	}
}

// Join blocks until all workers have returned. Call after Exit.
func (tp *ThreadPool) Join() {
	tp.wg.Wait()
}

// Stats returns basic pool metrics.
func (tp *ThreadPool) Stats() map[string]int64 {
	tp.mu.Lock()
	pending := int64(tp.tasks.Length())
	tp.mu.Unlock()
	return map[string]int64{
		"total_tasks":     atomic.LoadInt64(&tp.totalTasks),
		"completed_tasks": atomic.LoadInt64(&tp.completedTasks),
		"pending_tasks":   pending,
	}
}

// worker is the main loop of one pool goroutine.
func (tp *ThreadPool) worker(id int) {
	defer tp.wg.Done()
	for {
		tp.mu.Lock()
		for tp.tasks.Length() == 0 && atomic.LoadInt32(&tp.stopped) == 0 {
			tp.cond.Wait()
		}
		if tp.tasks.Length() == 0 {
			tp.mu.Unlock()
			return
		}
		task := tp.tasks.Remove().(api.Task)
		tp.mu.Unlock()
		tp.runTask(id, task)
	}
}

// runTask executes one task, recovering from panics so a failing task cannot
// take the worker down.
func (tp *ThreadPool) runTask(id int, task api.Task) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"worker": id,
				"panic":  r,
			}).Error("thread pool task panicked")
		}
		atomic.AddInt64(&tp.completedTasks, 1)
	}()
	task()
}
