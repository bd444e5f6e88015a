// File: reactor/timer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Timer subsystem. One-shot occurrences live in a deadline-ordered heap plus
// a lookup map for direct cancellation; repeating timers keep their metadata
// in a second map under a stable id, so cancelling the stable id prevents the
// next occurrence from ever being scheduled. The two maps share the TimerID
// type but never a key.

package reactor

import (
	"container/heap"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-net/api"
)

// TimerID identifies a scheduled timer: deadline plus a process-wide
// monotonic sequence. The sequence makes ids unique and totally ordered even
// for equal deadlines. The zero value is invalid.
type TimerID struct {
	At  int64 // deadline, unix milliseconds
	Seq int64
}

// Valid reports whether the id refers to a timer that was scheduled.
func (id TimerID) Valid() bool { return id.Seq != 0 }

// timerSeq issues process-wide timer sequence numbers.
var timerSeq int64

func nextTimerSeq() int64 { return atomic.AddInt64(&timerSeq, 1) }

// nowMillis is the clock for deadlines, idle stamps and reconnect math.
// The cached clock lags real time by at most its refresh tick, so a timer
// can only ever fire at or after its deadline, never before.
func nowMillis() int64 {
	return timecache.CachedTimeNano() / int64(time.Millisecond)
}

// NowMillis exposes the reactor's cached millisecond clock so callers can
// compute deadlines consistent with timer and idle bookkeeping.
func NowMillis() int64 { return nowMillis() }

type timerEntry struct {
	id    TimerID
	task  api.Task
	index int // heap slot, maintained by timerHeap
}

// timerHeap orders entries by (deadline, sequence).
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].id.At != h[j].id.At {
		return h[i].id.At < h[j].id.At
	}
	return h[i].id.Seq < h[j].id.Seq
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// repeatEntry is the stable record of a repeating timer.
type repeatEntry struct {
	id         TimerID // stable handle returned to the caller
	at         int64   // deadline of the currently pending occurrence
	intervalMs int64
	task       api.Task
	occurrence TimerID // id of the pending one-shot occurrence
}

// RunAt schedules task at the given unix-millisecond timestamp. A positive
// intervalMs makes the timer repeat on that cadence; the returned id then
// stays valid for cancellation across occurrences. Returns the zero TimerID
// if the reactor has already exited. Owner-thread only; use SafeCall to
// schedule from another thread.
func (r *Reactor) RunAt(atMs int64, task api.Task, intervalMs int64) TimerID {
	if r.Exited() {
		return TimerID{}
	}
	if intervalMs <= 0 {
		return r.scheduleOnce(atMs, task)
	}
	stable := TimerID{At: atMs, Seq: nextTimerSeq()}
	re := &repeatEntry{id: stable, at: atMs, intervalMs: intervalMs, task: task}
	r.repeats[stable] = re
	re.occurrence = r.scheduleOnce(atMs, func() { r.fireRepeat(stable) })
	return stable
}

// RunAfter schedules task delayMs from now. See RunAt.
func (r *Reactor) RunAfter(delayMs int64, task api.Task, intervalMs int64) TimerID {
	return r.RunAt(nowMillis()+delayMs, task, intervalMs)
}

// Cancel removes a pending timer. For a repeating timer pass the stable id
// returned by RunAt; cancelling it also drops the pending occurrence.
// Returns whether the timer existed. Owner-thread only.
func (r *Reactor) Cancel(id TimerID) bool {
	if e, ok := r.timers[id]; ok {
		heap.Remove(&r.timerQ, e.index)
		delete(r.timers, id)
		r.refreshNearestTimer()
		return true
	}
	if re, ok := r.repeats[id]; ok {
		delete(r.repeats, id)
		if e, live := r.timers[re.occurrence]; live {
			heap.Remove(&r.timerQ, e.index)
			delete(r.timers, re.occurrence)
			r.refreshNearestTimer()
		}
		return true
	}
	return false
}

// scheduleOnce emplaces a one-shot entry under a fresh sequence.
func (r *Reactor) scheduleOnce(atMs int64, task api.Task) TimerID {
	e := &timerEntry{id: TimerID{At: atMs, Seq: nextTimerSeq()}, task: task}
	heap.Push(&r.timerQ, e)
	r.timers[e.id] = e
	r.refreshNearestTimer()
	return e.id
}

// fireRepeat runs one occurrence of a repeating timer: reschedule first so a
// cancel from inside the callback hits the already-registered next
// occurrence, then invoke the user task.
func (r *Reactor) fireRepeat(stable TimerID) {
	re, ok := r.repeats[stable]
	if !ok {
		return // cycle was cancelled
	}
	// advance from the previous scheduled deadline, not wall-clock-at-fire,
	// so the cadence does not drift
	re.at += re.intervalMs
	re.occurrence = r.scheduleOnce(re.at, func() { r.fireRepeat(stable) })
	re.task()
}

// fireTimers runs every one-shot entry whose deadline has passed, in
// deadline order. A panicking callback is logged, never propagated.
func (r *Reactor) fireTimers() {
	now := nowMillis()
	for r.timerQ.Len() > 0 && r.timerQ[0].id.At <= now {
		e := heap.Pop(&r.timerQ).(*timerEntry)
		delete(r.timers, e.id)
		r.runGuarded("timer", e.task)
	}
	r.refreshNearestTimer()
}

// refreshNearestTimer recomputes the cached wait bound so the poll wakes up
// in time for the next deadline even with zero I/O activity.
func (r *Reactor) refreshNearestTimer() {
	if r.timerQ.Len() == 0 {
		r.nextTimerMs = -1
		return
	}
	until := r.timerQ[0].id.At - nowMillis()
	if until < 0 {
		until = 0
	}
	r.nextTimerMs = until
}

// runGuarded invokes a user callback, containing panics at the dispatch site.
func (r *Reactor) runGuarded(kind string, task api.Task) {
	defer func() {
		if rec := recover(); rec != nil {
			logrus.WithFields(logrus.Fields{
				"reactor": r.id,
				"kind":    kind,
				"panic":   rec,
			}).Error("reactor callback panicked")
		}
	}()
	task()
}
