// File: reactor/pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pool runs a fixed set of reactors, one per thread. Allocation is
// round-robin and intentionally oblivious to per-reactor load.

package reactor

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-net/affinity"
)

// Allocator hands out a reactor for each new connection. Both a single
// Reactor (always itself) and a Pool (round-robin) satisfy it.
type Allocator interface {
	Alloc() *Reactor
}

// Pool holds N reactors. N-1 run on dedicated OS threads; the last runs on
// the thread that calls Loop, so Loop blocks the caller.
type Pool struct {
	next  int64
	bases []*Reactor
	wg    sync.WaitGroup
}

// NewPool creates n reactors (n < 1 is treated as 1) with unbounded task
// queues.
func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{bases: make([]*Reactor, n)}
	for i := range p.bases {
		p.bases[i] = New(0)
	}
	return p
}

// Size returns the number of reactors.
func (p *Pool) Size() int { return len(p.bases) }

// Alloc returns the next reactor round-robin. Safe from any thread.
func (p *Pool) Alloc() *Reactor {
	n := atomic.AddInt64(&p.next, 1)
	return p.bases[int(n-1)%len(p.bases)]
}

// Loop starts every reactor and blocks on the last one until all have
// exited. Each dedicated reactor goroutine is locked to its OS thread.
func (p *Pool) Loop() {
	p.loop(false)
}

// LoopPinned is Loop with each reactor thread additionally pinned to a
// logical CPU (reactor i to CPU i mod NumCPU). A failed pin is logged and
// the loop runs unpinned.
func (p *Pool) LoopPinned() {
	p.loop(true)
}

func (p *Pool) loop(pin bool) {
	for i, b := range p.bases[:len(p.bases)-1] {
		p.wg.Add(1)
		go func(i int, r *Reactor) {
			defer p.wg.Done()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			if pin {
				pinTo(i, r)
			}
			r.Loop()
		}(i, b)
	}
	last := len(p.bases) - 1
	if pin {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		pinTo(last, p.bases[last])
	}
	p.bases[last].Loop()
	p.wg.Wait()
}

func pinTo(i int, r *Reactor) {
	cpu := i % runtime.NumCPU()
	if err := affinity.SetAffinity(cpu); err != nil {
		logrus.WithFields(logrus.Fields{
			"reactor": r.ID(),
			"cpu":     cpu,
			"error":   err,
		}).Warn("cpu pin failed, running unpinned")
	}
}

// Exit requests every reactor to stop. Safe from any thread.
func (p *Pool) Exit() {
	for _, b := range p.bases {
		b.Exit()
	}
}
