package thread

import "testing"

func TestCreateYieldRunsChildToCompletion(t *testing.T) {
	sched := NewScheduler()
	ran := false
	id := sched.Create(func() {
		ran = true
	})
	if id == 0 {
		t.Fatalf("child got tid 0, want nonzero (parent owns 0)")
	}
	sched.Yield() // hand off to the child; it runs to completion and yields back
	if !ran {
		t.Error("child work function did not run")
	}
}

func TestJoinWaitsForChild(t *testing.T) {
	sched := NewScheduler()
	order := []string{}
	id := sched.Create(func() {
		order = append(order, "child")
	})
	if code := sched.Join(id); code != JoinOK {
		t.Fatalf("Join = %d, want %d", code, JoinOK)
	}
	order = append(order, "parent")
	if len(order) != 2 || order[0] != "child" || order[1] != "parent" {
		t.Errorf("order = %v, want [child parent]", order)
	}
}

func TestJoinSelfIsDeadlock(t *testing.T) {
	sched := NewScheduler()
	self := sched.Self()
	if code := sched.Join(self); code != JoinErrDeadlock {
		t.Errorf("Join(self) = %d, want %d", code, JoinErrDeadlock)
	}
}

func TestJoinUnknownThread(t *testing.T) {
	sched := NewScheduler()
	sched.Self()
	if code := sched.Join(9999); code != JoinErrNoSuchThread {
		t.Errorf("Join(unknown) = %d, want %d", code, JoinErrNoSuchThread)
	}
}

func TestJoinAlreadyDoneReturnsImmediately(t *testing.T) {
	sched := NewScheduler()
	id := sched.Create(func() {})
	sched.Yield() // let the child run to completion
	if code := sched.Join(id); code != JoinOK {
		t.Errorf("Join(already-done) = %d, want %d", code, JoinOK)
	}
}

func TestMutexHandoffOrdersWaiters(t *testing.T) {
	sched := NewScheduler()
	mutex := sched.NewMutex()
	var order []int

	for i := 1; i <= 3; i++ {
		i := i
		sched.Create(func() {
			if !mutex.Lock() {
				t.Errorf("thread %d: Lock failed", i)
				return
			}
			order = append(order, i)
			mutex.Unlock()
		})
	}
	// parent takes the lock first so the three children queue up in order
	mutex.Lock()
	for i := 0; i < 3; i++ {
		sched.Yield()
	}
	mutex.Unlock()
	for i := 0; i < 3; i++ {
		sched.Yield()
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("order = %v, want [1 2 3]", order)
	}
}

func TestCondSignalWakesWaiter(t *testing.T) {
	sched := NewScheduler()
	mutex := sched.NewMutex()
	cond := sched.NewCond()
	woke := false

	sched.Create(func() {
		mutex.Lock()
		cond.Wait(mutex)
		woke = true
		mutex.Unlock()
	})
	sched.Yield() // child locks the mutex, then waits on the cond (releasing it)

	mutex.Lock()
	cond.Signal()
	mutex.Unlock()
	sched.Yield()

	if !woke {
		t.Error("waiter was not woken by Signal")
	}
}
