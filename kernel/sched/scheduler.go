// Package sched implements the weighted-fair single-core scheduler (spec
// §4.6): vruntime-ordered run queue, the 40-entry nice-weight table, and
// tick-driven preemption, plus the always-runnable idle thread.
package sched

// Scheduler tracks the ready run queue, the currently running thread, the
// idle thread, and the monotonically non-decreasing min_vruntime watermark.
type Scheduler struct {
	rq          runQueue
	current     Schedulable
	idle        Schedulable
	minVruntime uint64
}

// New builds a Scheduler whose idle thread is picked whenever the run
// queue is empty. idle's entity should have Vruntime == IdleVruntime; New
// sets it defensively in case the caller forgot.
func New(idle Schedulable) *Scheduler {
	idle.SchedEntity().Vruntime = IdleVruntime
	return &Scheduler{idle: idle}
}

// Current returns the thread the scheduler currently considers running,
// or nil before the first Schedule call.
func (s *Scheduler) Current() Schedulable { return s.current }

// MinVruntime returns the current min_vruntime watermark.
func (s *Scheduler) MinVruntime() uint64 { return s.minVruntime }

// Len returns the number of threads currently on the ready run queue
// (excluding idle and the currently running thread).
func (s *Scheduler) Len() int { return s.rq.Len() }

// Enqueue places t on the ready run queue, clamping its vruntime up to
// min_vruntime first (spec §4.6 "Enqueue": prevents long-blocked threads
// from monopolizing the CPU on wake). The idle thread is never enqueued.
func (s *Scheduler) Enqueue(t Schedulable) {
	if t == s.idle {
		return
	}
	e := t.SchedEntity()
	if e.Vruntime < s.minVruntime {
		e.Vruntime = s.minVruntime
	}
	s.rq.push(t)
	s.updateMinVruntime()
}

// Tick advances the currently running thread's vruntime by delta and
// consumes delta from its remaining slice (spec §4.6 "Ordering").
func (s *Scheduler) Tick(delta uint64) {
	if s.current == nil || s.current == s.idle {
		return
	}
	e := s.current.SchedEntity()
	e.AdvanceVruntime(delta)
	if delta >= e.RemainingSlice {
		e.RemainingSlice = 0
	} else {
		e.RemainingSlice -= delta
	}
	s.updateMinVruntime()
}

// ShouldPreempt reports whether the currently running thread should yield
// the CPU, per spec §4.6 "Ordering": the time slice reached zero, the run
// queue head's vruntime is now lower than the running thread's, or
// needs_resched is set.
func (s *Scheduler) ShouldPreempt() bool {
	if s.current == nil || s.current == s.idle {
		return s.rq.Len() > 0
	}
	e := s.current.SchedEntity()
	if e.RemainingSlice == 0 {
		return true
	}
	if e.NeedsResched {
		return true
	}
	if head, ok := s.rq.peek(); ok && head.SchedEntity().Vruntime < e.Vruntime {
		return true
	}
	return false
}

// Schedule performs one pick (spec §4.6 "Picking"). If outgoing is
// runnable (not blocked, not zombie — the caller decides this, since only
// it knows the thread's lifecycle state) it is reinserted with its current
// vruntime; the idle thread is never reinserted. The run-queue head is then
// dequeued and becomes current. If the run queue is empty, idle is picked.
// Passing a nil outgoing performs the very first, one-way "load context"
// switch described by spec §4.6.
func (s *Scheduler) Schedule(outgoing Schedulable, outgoingRunnable bool) Schedulable {
	if outgoing != nil && outgoingRunnable {
		s.Enqueue(outgoing)
	}

	var next Schedulable
	if s.rq.Len() > 0 {
		next = s.rq.pop()
		next.SchedEntity().ResetSlice()
		next.SchedEntity().NeedsResched = false
	} else {
		next = s.idle
	}

	s.current = next
	s.updateMinVruntime()
	return next
}

// updateMinVruntime recomputes min_vruntime as the smaller of the
// currently running thread's vruntime and the run-queue head's, clamped so
// it never decreases (spec §8: "min_vruntime is monotonically
// non-decreasing over the life of the run queue").
func (s *Scheduler) updateMinVruntime() {
	candidate, have := uint64(0), false

	if s.current != nil && s.current != s.idle {
		candidate, have = s.current.SchedEntity().Vruntime, true
	}
	if head, ok := s.rq.peek(); ok {
		hv := head.SchedEntity().Vruntime
		if !have || hv < candidate {
			candidate, have = hv, true
		}
	}
	if have && candidate > s.minVruntime {
		s.minVruntime = candidate
	}
}
