package sched

import "testing"

func TestWaitQueueFIFO(t *testing.T) {
	var q WaitQueue[int]
	q.Enqueue(1)
	q.Enqueue(2)
	q.Enqueue(3)

	for _, want := range []int{1, 2, 3} {
		got, ok := q.Dequeue()
		if !ok || got != want {
			t.Fatalf("expected %d, got %d (ok=%v)", want, got, ok)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatal("expected empty queue to report ok=false")
	}
}

func TestWaitQueueRemoveSpecific(t *testing.T) {
	var q WaitQueue[string]
	q.Enqueue("a")
	q.Enqueue("b")
	q.Enqueue("c")

	if !q.Remove("b") {
		t.Fatal("expected to find and remove \"b\"")
	}
	if q.Remove("b") {
		t.Fatal("expected a second removal of \"b\" to fail")
	}

	got, _ := q.Dequeue()
	if got != "a" {
		t.Fatalf("expected \"a\" first, got %q", got)
	}
	got, _ = q.Dequeue()
	if got != "c" {
		t.Fatalf("expected \"c\" second, got %q", got)
	}
}
