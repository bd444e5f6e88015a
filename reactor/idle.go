// File: reactor/idle.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Idle-timeout tracking. Entries are grouped into buckets by timeout
// duration; each bucket is an oldest-active-first list swept once per second.
// An expired entry is notified and re-stamped at the tail rather than
// removed, so the callback recurs on the bucket's cadence until the entry is
// explicitly updated or removed (heartbeat semantics).

package reactor

import (
	"container/list"

	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-net/api"
)

// idleSweepIntervalMs is the cadence of the bucket sweep.
const idleSweepIntervalMs = 1000

// IdleID identifies one idle registration.
type IdleID = *idleEntry

type idleEntry struct {
	seconds    int
	lastActive int64 // unix milliseconds
	cb         api.Task
	elem       *list.Element // slot in its bucket, nil once removed
}

// RegisterIdle tracks an idle callback that fires once cb's entry has seen
// no update for the given number of seconds, and then again roughly every
// interval until removed. A non-positive timeout or nil callback is a
// programming error. Owner-thread only.
func (r *Reactor) RegisterIdle(seconds int, cb api.Task) IdleID {
	if seconds <= 0 || cb == nil {
		panic("reactor: invalid idle registration")
	}
	if !r.idleEnabled {
		// lazily start the self-rescheduling sweep on first registration
		r.idleEnabled = true
		r.RunAfter(idleSweepIntervalMs, r.sweepIdles, idleSweepIntervalMs)
	}
	bucket := r.idles[seconds]
	if bucket == nil {
		bucket = list.New()
		r.idles[seconds] = bucket
	}
	e := &idleEntry{seconds: seconds, lastActive: nowMillis(), cb: cb}
	e.elem = bucket.PushBack(e)
	return e
}

// UpdateIdle refreshes an entry's last-active timestamp and moves it to the
// tail of its bucket. Owner-thread only.
func (r *Reactor) UpdateIdle(id IdleID) {
	if id == nil || id.elem == nil {
		return
	}
	id.lastActive = nowMillis()
	r.idles[id.seconds].MoveToBack(id.elem)
}

// RemoveIdle drops an entry; its callback will not fire again. Owner-thread
// only.
func (r *Reactor) RemoveIdle(id IdleID) {
	if id == nil || id.elem == nil {
		return
	}
	r.idles[id.seconds].Remove(id.elem)
	id.elem = nil
	id.cb = nil
}

// sweepIdles walks each bucket from the oldest entry until the first
// unexpired one, firing and re-stamping every expired entry.
func (r *Reactor) sweepIdles() {
	now := nowMillis()
	for seconds, bucket := range r.idles {
		timeoutMs := int64(seconds) * 1000
		for bucket.Len() > 0 {
			front := bucket.Front()
			e := front.Value.(*idleEntry)
			if now-e.lastActive < timeoutMs {
				break // list is oldest-first; the rest are younger
			}
			logrus.WithFields(logrus.Fields{
				"reactor": r.id,
				"bucket":  seconds,
			}).Debug("idle entry expired")
			r.runGuarded("idle", e.cb)
			if e.elem == nil {
				continue // callback removed its own registration
			}
			// advance by the timeout rather than stamping the sweep time,
			// so sweep jitter does not accumulate into the re-fire cadence
			e.lastActive += timeoutMs
			bucket.MoveToBack(front)
		}
	}
}
