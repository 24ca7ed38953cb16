package sched

import "container/heap"

// runQueue is a vruntime-ordered min-heap of ready threads (spec §4.6
// "Ordering": "the run queue is address-sorted by vruntime; the head is
// always the next victim"), implemented with container/heap so Enqueue/
// dequeue are both O(log n) instead of a sorted slice's O(n) insert.
type runQueue []Schedulable

func (q runQueue) Len() int { return len(q) }

func (q runQueue) Less(i, j int) bool {
	return q[i].SchedEntity().Vruntime < q[j].SchedEntity().Vruntime
}

func (q runQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].SchedEntity().index = i
	q[j].SchedEntity().index = j
}

func (q *runQueue) Push(x interface{}) {
	t := x.(Schedulable)
	t.SchedEntity().index = len(*q)
	*q = append(*q, t)
}

func (q *runQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.SchedEntity().index = -1
	*q = old[:n-1]
	return item
}

func (q *runQueue) push(t Schedulable) { heap.Push(q, t) }

func (q *runQueue) pop() Schedulable {
	return heap.Pop(q).(Schedulable)
}

func (q runQueue) peek() (Schedulable, bool) {
	if len(q) == 0 {
		return nil, false
	}
	return q[0], true
}
