package dispatch

import (
	"github.com/eapache/queue"
)

// taskQueue is the ordered backlog of pending requests awaiting a free unit,
// served strictly first-in-first-out. It is not safe for concurrent use; the
// dispatcher serializes access under its mutex.
type taskQueue struct {
	q *queue.Queue
}

func newTaskQueue() *taskQueue {
	return &taskQueue{q: queue.New()}
}

func (t *taskQueue) enqueue(req *PendingRequest) {
	t.q.Add(req)
}

func (t *taskQueue) dequeue() (*PendingRequest, bool) {
	if t.q.Length() == 0 {
		return nil, false
	}
	return t.q.Remove().(*PendingRequest), true
}

func (t *taskQueue) len() int {
	return t.q.Length()
}
