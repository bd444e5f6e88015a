// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Reactor is one event loop: a poller, the timer subsystem, idle buckets and
// a cross-thread task queue woken through a self-pipe. One thread runs the
// loop; every callback dispatched by the reactor runs on that thread.

package reactor

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/api"
)

// loopSliceMs bounds one Loop iteration so the exit flag is rechecked even
// with no traffic and no timers.
const loopSliceMs = 10000

// reactorSeq issues reactor ids for diagnostics.
var reactorSeq int64

// Reactor is a single-threaded event dispatcher.
type Reactor struct {
	id     int64
	poller poller

	// timer subsystem, owner-thread only
	timerQ      timerHeap
	timers      map[TimerID]*timerEntry
	repeats     map[TimerID]*repeatEntry
	nextTimerMs int64

	// idle buckets, owner-thread only
	idles       map[int]*list.List
	idleEnabled bool

	// cross-thread task injection
	tasksMu      sync.Mutex
	tasks        *queue.Queue
	taskCapacity int
	wakeCh       *Channel
	wakeWriteFd  int
	wakeBuf      []byte

	exitFlag int32
}

// New creates a reactor. taskCapacity bounds the cross-thread task queue;
// 0 means unbounded. Resource failures during construction are unrecoverable.
func New(taskCapacity int) *Reactor {
	r := &Reactor{
		id:           atomic.AddInt64(&reactorSeq, 1),
		poller:       newPoller(),
		timers:       make(map[TimerID]*timerEntry),
		repeats:      make(map[TimerID]*repeatEntry),
		nextTimerMs:  -1,
		tasks:        queue.New(),
		taskCapacity: taskCapacity,
		wakeBuf:      make([]byte, 1024),
	}
	r.idles = make(map[int]*list.List)

	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		panic("reactor: wakeup pipe failed: " + err.Error())
	}
	unix.CloseOnExec(p[0])
	unix.CloseOnExec(p[1])
	if err := unix.SetNonblock(p[1], true); err != nil {
		panic("reactor: wakeup pipe non-blocking failed: " + err.Error())
	}
	r.wakeWriteFd = p[1]
	r.wakeCh = NewChannel(r, p[0], EventRead)
	r.wakeCh.OnRead(r.handleWakeup)

	logrus.WithField("reactor", r.id).Debug("reactor created")
	return r
}

// ID returns the reactor's diagnostic identity.
func (r *Reactor) ID() int64 { return r.id }

// Alloc satisfies Allocator for the single-reactor case.
func (r *Reactor) Alloc() *Reactor { return r }

// LoopOnce waits up to maxWaitMs for readiness (bounded further by the next
// timer deadline), dispatches ready channels, then fires due timers.
func (r *Reactor) LoopOnce(maxWaitMs int) {
	wait := maxWaitMs
	if r.nextTimerMs >= 0 && (wait < 0 || r.nextTimerMs < int64(wait)) {
		wait = int(r.nextTimerMs)
	}
	r.poller.loopOnce(wait)
	r.fireTimers()
}

// Loop runs until Exit, then performs one final zero-wait pass so in-flight
// close and cleanup callbacks get to run before the loop returns.
func (r *Reactor) Loop() {
	logrus.WithField("reactor", r.id).Debug("loop started")
	for !r.Exited() {
		r.LoopOnce(loopSliceMs)
	}
	r.LoopOnce(0)
	logrus.WithField("reactor", r.id).Debug("loop finished")
}

// Exit sets the exit flag and wakes the loop so a blocked poll returns
// promptly. Safe from any thread; idempotent.
func (r *Reactor) Exit() {
	if atomic.CompareAndSwapInt32(&r.exitFlag, 0, 1) {
		logrus.WithField("reactor", r.id).Debug("exit requested")
		r.Wakeup()
	}
}

// Exited reports whether Exit has been called. Safe from any thread.
func (r *Reactor) Exited() bool {
	return atomic.LoadInt32(&r.exitFlag) == 1
}

// Wakeup makes a blocked poll return by writing one byte into the self-pipe.
// Safe from any thread.
func (r *Reactor) Wakeup() {
	_, err := unix.Write(r.wakeWriteFd, []byte{0})
	if err != nil && err != unix.EAGAIN {
		logrus.WithFields(logrus.Fields{
			"reactor": r.id,
			"error":   err,
		}).Warn("reactor wakeup write failed")
	}
}

// SafeCall queues task for execution on the loop thread and wakes the loop.
// Safe from any thread. With a bounded queue an overflowing task is dropped
// and logged rather than blocking the producer.
func (r *Reactor) SafeCall(task api.Task) {
	if task == nil {
		return
	}
	r.tasksMu.Lock()
	if r.taskCapacity > 0 && r.tasks.Length() >= r.taskCapacity {
		r.tasksMu.Unlock()
		logrus.WithField("reactor", r.id).Warn("task queue full, task dropped")
		return
	}
	r.tasks.Add(task)
	r.tasksMu.Unlock()
	r.Wakeup()
}

// Close releases the reactor's descriptors. Call only after Loop has
// returned; queued tasks that never ran are discarded.
func (r *Reactor) Close() {
	_ = unix.Close(r.wakeWriteFd)
	if !r.wakeCh.Closed() {
		r.wakeCh.Close()
	}
	r.poller.close()
}

// handleWakeup drains the self-pipe, then runs every queued task. A failing
// task is logged and the rest still run. If the write end is gone the
// channel is torn down.
func (r *Reactor) handleWakeup() {
	for {
		n, err := unix.Read(r.wakeCh.Fd(), r.wakeBuf)
		if n > 0 {
			if n < len(r.wakeBuf) {
				break
			}
			continue
		}
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			break
		}
		// zero read or hard error: the remote write end is closed
		if !r.wakeCh.Closed() {
			logrus.WithField("reactor", r.id).Warn("wakeup pipe closed, tearing down")
			r.wakeCh.Close()
		}
		break
	}
	for {
		r.tasksMu.Lock()
		if r.tasks.Length() == 0 {
			r.tasksMu.Unlock()
			return
		}
		task := r.tasks.Remove().(api.Task)
		r.tasksMu.Unlock()
		r.runGuarded("task", task)
	}
}
