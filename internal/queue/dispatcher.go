package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wapuda/autorename/internal/jobs"
)

// Handler runs the full pipeline for one item. The dispatcher does not wait
// for it; concurrency is bounded inside the handler.
type Handler func(ctx context.Context, it jobs.WorkItem)

// Options tune the dispatcher loop.
type Options struct {
	Yield       time.Duration // pause between pops
	Grace       time.Duration // idle wait before the loop exits
	Concurrency int           // reported by Concurrency(); enforced by the pipeline
}

// Dispatcher is the single-flight control loop over a Queue. At most one loop
// is draining at any time; Enqueue starts one if none is running.
type Dispatcher struct {
	ctx     context.Context
	q       *Queue
	handle  Handler
	opts    Options
	running atomic.Bool
	loops   atomic.Int64
	wg      sync.WaitGroup
}

func NewDispatcher(ctx context.Context, q *Queue, h Handler, opts Options) *Dispatcher {
	return &Dispatcher{ctx: ctx, q: q, handle: h, opts: opts}
}

// Enqueue appends it, kicks the loop and returns the queue position.
func (d *Dispatcher) Enqueue(it jobs.WorkItem) int {
	pos := d.q.Push(it)
	d.kick()
	return pos
}

func (d *Dispatcher) Depth() int       { return d.q.Len() }
func (d *Dispatcher) ClearAll() int    { return d.q.Clear() }
func (d *Dispatcher) Concurrency() int { return d.opts.Concurrency }

func (d *Dispatcher) ClearForUser(uid int64) int { return d.q.RemoveUser(uid) }
func (d *Dispatcher) CountForUser(uid int64) int { return d.q.CountUser(uid) }

// Running reports whether a loop is currently draining the queue.
func (d *Dispatcher) Running() bool { return d.running.Load() }

func (d *Dispatcher) kick() {
	if !d.running.CompareAndSwap(false, true) {
		return
	}
	d.loops.Add(1)
	go d.loop()
}

func (d *Dispatcher) loop() {
	for {
		d.drain()
		if !d.sleep(d.opts.Grace) || d.q.Len() > 0 {
			if d.ctx.Err() != nil {
				d.running.Store(false)
				return
			}
			continue
		}
		d.running.Store(false)
		// An Enqueue that landed after the last Len saw running=true and
		// did not start a loop; take the flag back for it.
		if d.q.Len() == 0 || !d.running.CompareAndSwap(false, true) {
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for d.ctx.Err() == nil {
		it, ok := d.q.Pop()
		if !ok {
			return
		}
		d.spawn(it)
		if !d.sleep(d.opts.Yield) {
			return
		}
	}
}

func (d *Dispatcher) spawn(it jobs.WorkItem) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Str("item", it.ID).
					Int64("uid", it.UserID).
					Str("panic", fmt.Sprint(r)).
					Bytes("stack", debug.Stack()).
					Msg("pipeline panicked")
			}
		}()
		d.handle(d.ctx, it)
	}()
}

// sleep waits for d or context cancellation; false means cancelled.
func (d *Dispatcher) sleep(dur time.Duration) bool {
	if dur <= 0 {
		return d.ctx.Err() == nil
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-d.ctx.Done():
		return false
	}
}

// Wait blocks until every spawned pipeline has returned.
func (d *Dispatcher) Wait() { d.wg.Wait() }
