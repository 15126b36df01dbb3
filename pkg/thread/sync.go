package thread

import "github.com/cipnrkorvo1/x20/internal/container"

// Mutex is a cooperative-scheduler mutex: FIFO waiters, owner
// identity, and hand-off (the thread resuming from Lock already holds
// the mutex; Unlock never leaves a gap where the lock is free and
// contended at once). All methods report success as a bool, matching
// the original's "return 1/0 instead of raising" convention.
type Mutex struct {
	sched  *Scheduler
	locked bool
	owner  int64
	q      *container.Queue[*TCB]
}

// NewMutex registers a new mutex with the scheduler and returns it
// ready for use.
func (s *Scheduler) NewMutex() *Mutex {
	s.mu.Lock()
	s.init()
	m := &Mutex{sched: s, owner: -1, q: container.NewQueue[*TCB]()}
	s.mutexesQ.PushBack(m)
	s.mu.Unlock()
	return m
}

// Lock acquires the mutex, blocking (via a cooperative yield) if it
// is already held by another thread. Locking a mutex the caller
// already owns fails and returns false: the mutex is not reentrant.
func (m *Mutex) Lock() bool {
	s := m.sched
	s.mu.Lock()
	self := s.current
	if !m.locked {
		m.locked = true
		m.owner = self.tid
		s.mu.Unlock()
		return true
	}
	if m.owner == self.tid {
		s.mu.Unlock()
		return false
	}
	self.status = Waiting
	m.q.PushBack(self)
	s.mu.Unlock()
	s.Yield()
	// control returns here only once Unlock has handed the lock to us.
	return true
}

// Unlock releases the mutex. If a thread is waiting, ownership passes
// directly to it (it is marked Working and placed on the ready queue)
// rather than the lock briefly becoming free and contended.
func (m *Mutex) Unlock() bool {
	s := m.sched
	s.mu.Lock()
	defer s.mu.Unlock()
	self := s.current
	if !m.locked || m.owner != self.tid {
		return false
	}
	next, ok := m.q.PopFront()
	if !ok {
		m.locked = false
		m.owner = -1
		return true
	}
	next.status = Working
	m.owner = next.tid
	s.readyQ.PushBack(next)
	return true
}

// Cond is a condition variable used together with a Mutex, following
// the same wait/signal contract as the original's thread_cond_t.
type Cond struct {
	sched *Scheduler
	q     *container.Queue[condWaiter]
}

type condWaiter struct {
	thread *TCB
	mutex  *Mutex
}

// NewCond registers a new condition variable with the scheduler.
func (s *Scheduler) NewCond() *Cond {
	s.mu.Lock()
	s.init()
	c := &Cond{sched: s, q: container.NewQueue[condWaiter]()}
	s.condsQ.PushBack(c)
	s.mu.Unlock()
	return c
}

// Wait atomically releases mutex (which the caller must already
// hold) and blocks until Signal wakes this thread. On return the
// caller owns mutex again. It fails if mutex is not held by the
// calling thread.
func (c *Cond) Wait(mutex *Mutex) bool {
	s := c.sched
	s.mu.Lock()
	self := s.current
	if !mutex.locked || mutex.owner != self.tid {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	if !mutex.Unlock() {
		return false
	}

	s.mu.Lock()
	self.status = Waiting
	c.q.PushBack(condWaiter{thread: self, mutex: mutex})
	s.mu.Unlock()

	s.Yield()
	// control returns here only once Signal has handed us the mutex.
	return true
}

// Signal wakes one waiting thread, handing it the mutex it was
// waiting on directly if free, or queuing it as a mutex waiter if the
// mutex has since been taken by someone else. A Signal with nothing
// waiting is a harmless success.
func (c *Cond) Signal() bool {
	s := c.sched
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := c.q.PopFront()
	if !ok {
		return true
	}
	t, mutex := w.thread, w.mutex
	if !mutex.locked {
		mutex.locked = true
		mutex.owner = t.tid
		t.status = Working
		s.readyQ.PushBack(t)
	} else {
		mutex.q.PushBack(t)
	}
	return true
}
