package beacon

import (
	"container/list"
	"sync"
)

// Queue is a thread-safe FIFO queue of Events with a hard capacity.
// When full, Enqueue evicts the oldest entry (strict FIFO drop).
type Queue struct {
	mu       sync.Mutex
	list     *list.List
	capacity int
}

// NewQueue creates an empty Queue holding at most capacity events.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = defaultMaxQueueSize
	}
	return &Queue{list: list.New(), capacity: capacity}
}

// Enqueue adds an Event to the end of the queue, evicting the front
// entry if the queue is at capacity.
func (q *Queue) Enqueue(event Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.list.Len() >= q.capacity {
		q.list.Remove(q.list.Front())
	}
	q.list.PushBack(event)
}

// RefreshNewest overwrites the timestamp of the most recently queued
// event in place. It reports false when the queue is empty.
func (q *Queue) RefreshNewest(timestamp int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	back := q.list.Back()
	if back == nil {
		return false
	}
	event := back.Value.(Event)
	event.Timestamp = timestamp
	back.Value = event
	return true
}

// Len returns the number of Events currently in the queue.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.list.Len()
}

// IsEmpty reports whether the queue has no elements.
func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

// Clear removes all Events from the queue.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.list.Init()
}

// Drain returns all Events in order and empties the queue in a single
// lock acquisition, so no concurrent Enqueue can slip an event between
// the snapshot and the clear.
func (q *Queue) Drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	events := make([]Event, 0, q.list.Len())
	for e := q.list.Front(); e != nil; e = e.Next() {
		events = append(events, e.Value.(Event))
	}
	q.list.Init()
	return events
}

// ToSlice returns all Events in the queue as a slice, preserving order.
func (q *Queue) ToSlice() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	events := make([]Event, 0, q.list.Len())
	for e := q.list.Front(); e != nil; e = e.Next() {
		events = append(events, e.Value.(Event))
	}
	return events
}

// LoadFromSlice replaces the queue contents with Events from the
// provided slice, keeping only the newest entries if the slice exceeds
// capacity.
func (q *Queue) LoadFromSlice(events []Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.list.Init()
	if len(events) > q.capacity {
		events = events[len(events)-q.capacity:]
	}
	for _, event := range events {
		q.list.PushBack(event)
	}
}
