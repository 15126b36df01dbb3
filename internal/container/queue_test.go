package container

import "testing"

func TestQueuePushPop(t *testing.T) {
	q := NewQueue[int]()
	q.PushBack(1)
	q.PushBack(2)
	q.PushBack(3)

	if v, ok := q.PeekFront(); !ok || v != 1 {
		t.Errorf("PeekFront: got (%d, %v), want (1, true)", v, ok)
	}

	for _, want := range []int{1, 2, 3} {
		v, ok := q.PopFront()
		if !ok || v != want {
			t.Errorf("PopFront: got (%d, %v), want (%d, true)", v, ok, want)
		}
	}
	if _, ok := q.PopFront(); ok {
		t.Errorf("PopFront on empty queue: got ok=true, want false")
	}
}

func TestQueueRemove(t *testing.T) {
	q := NewQueue[string]()
	q.PushBack("a")
	q.PushBack("b")
	q.PushBack("c")

	if !q.Remove("b") {
		t.Fatal("Remove(b): got false, want true")
	}
	if q.Remove("b") {
		t.Fatal("second Remove(b): got true, want false (already removed)")
	}

	var got []string
	q.Each(func(v string) bool {
		got = append(got, v)
		return true
	})
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Errorf("remaining items = %v, want [a c]", got)
	}
}

func TestQueueLen(t *testing.T) {
	q := NewQueue[int]()
	if q.Len() != 0 {
		t.Errorf("Len() on empty queue = %d, want 0", q.Len())
	}
	q.PushBack(1)
	q.PushBack(2)
	if q.Len() != 2 {
		t.Errorf("Len() = %d, want 2", q.Len())
	}
	q.Destroy()
	if q.Len() != 0 {
		t.Errorf("Len() after Destroy = %d, want 0", q.Len())
	}
}
