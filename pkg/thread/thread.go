// Package thread implements a cooperative, single-active-thread
// (M:1) user-space scheduler: one logical thread runs at a time, and
// control only ever moves between threads at an explicit Yield,
// Join, or synchronization primitive.
//
// The original (see original_source/A3/thread.c) switches stacks with
// hand-written x86-64 assembly (asm_yield). Go cannot portably swap a
// raw stack pointer, so here the switch is a parked-goroutine handoff:
// every TCB owns a size-1 buffered "resume" channel, and yielding to a
// thread means signalling its channel, then blocking on one's own.
// Exactly one TCB's goroutine is ever unblocked at a time, which
// reproduces the cooperative discipline without unsafe stack surgery.
package thread

import (
	"sync"

	"github.com/cipnrkorvo1/x20/internal/container"
)

// Status mirrors the original's enum Status.
type Status int

const (
	Working Status = iota
	Waiting
	Done
)

// TCB is a thread control block: one logical thread of control.
type TCB struct {
	tid      int64
	status   Status
	observer *TCB // thread waiting to join with this one
	resume   chan struct{}
	work     func()
}

// Scheduler holds all scheduler-global state. A zero Scheduler is not
// ready; call NewScheduler.
type Scheduler struct {
	mu sync.Mutex // guards only the bookkeeping below, never the handoff itself

	all      *container.Table[*TCB]
	readyQ   *container.Queue[*TCB]
	mutexesQ *container.Queue[*Mutex]
	condsQ   *container.Queue[*Cond]

	current       *TCB
	nextToDestroy *TCB
	ready         bool
	parentID      int64
}

// NewScheduler returns a Scheduler with its data structures
// initialized but no threads created yet; the parent (calling)
// goroutine becomes thread 0 on first use, exactly as init() in the
// original lazily bootstraps on the first thread_* call.
func NewScheduler() *Scheduler {
	return &Scheduler{
		all:      container.NewTable[*TCB](),
		readyQ:   container.NewQueue[*TCB](),
		mutexesQ: container.NewQueue[*Mutex](),
		condsQ:   container.NewQueue[*Cond](),
	}
}

func (s *Scheduler) init() {
	if s.ready {
		return
	}
	parent := &TCB{status: Working, resume: make(chan struct{}, 1)}
	parent.tid = s.all.Put(parent)
	s.current = parent
	s.parentID = parent.tid
	s.ready = true
}

// Self returns the calling thread's id, initializing the scheduler on
// first use.
func (s *Scheduler) Self() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	return s.current.tid
}

// Create starts a new thread running work and returns its id. The new
// thread is pushed onto the ready queue; it does not run until some
// thread yields to it.
func (s *Scheduler) Create(work func()) int64 {
	s.mu.Lock()
	s.init()
	t := &TCB{status: Working, resume: make(chan struct{}, 1), work: work}
	t.tid = s.all.Put(t)
	s.readyQ.PushBack(t)
	s.mu.Unlock()

	go func() {
		<-t.resume
		work()
		s.terminate(t)
	}()
	return t.tid
}

// Yield hands control to the next ready thread and blocks the caller
// until it is resumed. If no other thread is ready and the caller is
// still Working, it simply returns (nothing to yield to). If the
// caller is not Working (it yielded while Waiting/Done) and no thread
// is ready, that is a deadlock: every thread is blocked.
func (s *Scheduler) Yield() {
	s.mu.Lock()
	s.init()
	old := s.current

	var next *TCB
	for {
		n, ok := s.readyQ.PopFront()
		if !ok {
			break
		}
		if n.status == Working {
			next = n
			break
		}
		// a ready-queue entry that isn't Working is discarded rather
		// than resumed, matching the original's recursive re-pop.
	}
	if next == nil {
		if old.status != Working {
			s.mu.Unlock()
			panic("thread: deadlock - no threads available to work")
		}
		s.mu.Unlock()
		return
	}
	s.current = next
	if old.status == Working {
		s.readyQ.PushBack(old)
	}
	s.mu.Unlock()

	next.resume <- struct{}{}
	<-old.resume
}

// detectDeadlock walks the Observer chain from the current thread
// with Floyd's cycle algorithm, exactly mirroring the original's
// detect_deadlock().
func detectDeadlock(start *TCB) bool {
	slow, fast := start, start
	for slow != nil && fast != nil && fast.observer != nil {
		slow = slow.observer
		fast = fast.observer.observer
		if slow != nil && fast != nil && slow.tid == fast.tid {
			return true
		}
	}
	return false
}

// Join error codes, matching the original's returned int codes.
const (
	JoinOK                = 0
	JoinErrDeadlock        = -1
	JoinErrAlreadyObserved = -2
	JoinErrNoSuchThread    = -3
)

// Join blocks the calling thread until the thread identified by id
// has terminated. If it has already terminated, Join returns
// immediately after yielding once.
func (s *Scheduler) Join(id int64) int {
	s.mu.Lock()
	s.init()
	if s.current.tid == id {
		s.mu.Unlock()
		return JoinErrDeadlock
	}
	target, ok := s.all.Get(id)
	if !ok {
		s.mu.Unlock()
		return JoinErrNoSuchThread
	}
	if target.status == Done {
		s.mu.Unlock()
		s.Yield()
		return JoinOK
	}
	if target.observer != nil {
		s.mu.Unlock()
		return JoinErrAlreadyObserved
	}

	s.current.status = Waiting
	target.observer = s.current
	if detectDeadlock(s.current) {
		s.current.status = Working
		target.observer = nil
		s.mu.Unlock()
		return JoinErrDeadlock
	}
	s.mu.Unlock()
	s.Yield()
	return JoinOK
}

func (s *Scheduler) terminate(t *TCB) {
	s.mu.Lock()
	t.status = Done
	if t.observer != nil {
		t.observer.status = Working
		s.readyQ.PushBack(t.observer)
		t.observer = nil
	}
	s.destroyLocked(s.nextToDestroy)
	s.nextToDestroy = t
	s.mu.Unlock()
	s.Yield()
}

// destroyLocked removes a terminated thread from the handle table.
// Deferred one generation (next_to_destroy) so a thread's own
// bookkeeping is never torn down while its goroutine is still the one
// executing (mirrors the original's stack-free deferral, even though
// Go's goroutine stacks need no manual free).
func (s *Scheduler) destroyLocked(t *TCB) {
	if t == nil {
		return
	}
	s.all.Remove(t.tid)
}

// Cleanup tears down every thread and scheduler data structure. Only
// the parent thread (tid 0, the scheduler's bootstrap caller) may call
// it, exactly as the original asserts.
func (s *Scheduler) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return
	}
	if s.current.tid != s.parentID {
		return
	}
	for {
		t, ok := s.all.PopFront()
		if !ok {
			break
		}
		s.destroyLocked(t)
	}
	s.readyQ.Destroy()
	s.mutexesQ.Destroy()
	s.condsQ.Destroy()
	s.ready = false
}
