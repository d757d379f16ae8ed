package collector

import (
	"sync"

	"github.com/tiger/agent-slo-pipeline/api/telemetry"
)

// boundedQueue is a severity-aware bounded buffer. On saturation the
// lowest-severity queued event is shed first; producers never block.
type boundedQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []telemetry.Event
	capacity int
	closed   bool
}

func newBoundedQueue(capacity int) *boundedQueue {
	if capacity < 1 {
		capacity = 1
	}
	q := &boundedQueue{
		items:    make([]telemetry.Event, 0, capacity),
		capacity: capacity,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues without blocking. When full, the lowest-severity event in
// the queue is evicted if the incoming event outranks it; otherwise the
// incoming event itself is shed. Returns whether the incoming event was
// accepted and how many events were shed (0 or 1).
func (q *boundedQueue) push(event telemetry.Event) (accepted bool, shed int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false, 1
	}
	if len(q.items) < q.capacity {
		q.items = append(q.items, event)
		q.cond.Signal()
		return true, 0
	}

	lowest := 0
	for i := 1; i < len(q.items); i++ {
		if q.items[i].Severity.Rank() < q.items[lowest].Severity.Rank() {
			lowest = i
		}
	}
	if event.Severity.Rank() <= q.items[lowest].Severity.Rank() {
		return false, 1
	}
	// Evict the oldest lowest-severity event in favor of the newcomer.
	copy(q.items[lowest:], q.items[lowest+1:])
	q.items[len(q.items)-1] = event
	q.cond.Signal()
	return true, 1
}

// pop blocks until an event is available or the queue is closed and
// drained.
func (q *boundedQueue) pop() (telemetry.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if q.closed {
			return telemetry.Event{}, false
		}
		q.cond.Wait()
	}
	event := q.items[0]
	copy(q.items, q.items[1:])
	q.items = q.items[:len(q.items)-1]
	return event, true
}

func (q *boundedQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

func (q *boundedQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
