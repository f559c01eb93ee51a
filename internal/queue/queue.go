// Package queue holds pending work items and the dispatcher loop that drains
// them into pipelines.
package queue

import (
	"sync"

	"github.com/wapuda/autorename/internal/jobs"
)

// Queue is an unbounded FIFO of WorkItems. Every mutation, including the
// administrative clear and filter operations, happens under one mutex so a
// clear cannot race a concurrent pop.
type Queue struct {
	mu    sync.Mutex
	items []jobs.WorkItem
}

func New() *Queue { return &Queue{} }

// Push appends it and returns its 1-based position.
func (q *Queue) Push(it jobs.WorkItem) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, it)
	return len(q.items)
}

// Pop removes and returns the head item.
func (q *Queue) Pop() (jobs.WorkItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return jobs.WorkItem{}, false
	}
	it := q.items[0]
	q.items[0] = jobs.WorkItem{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return it, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops every pending item and returns how many were removed.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

// RemoveUser drops the items owned by uid, keeping the others in order.
func (q *Queue) RemoveUser(uid int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0]
	removed := 0
	for _, it := range q.items {
		if it.UserID == uid {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = jobs.WorkItem{}
	}
	q.items = kept
	return removed
}

// CountUser returns how many pending items uid owns.
func (q *Queue) CountUser(uid int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, it := range q.items {
		if it.UserID == uid {
			n++
		}
	}
	return n
}
