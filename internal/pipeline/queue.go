package pipeline

import (
	"sync/atomic"

	"github.com/meridian/finrag/internal/source"
)

// boundedQueue buffers events between a source reader and the worker that
// applies them. When the buffer is full the oldest pending event is dropped
// to make room, so a slow embedder never blocks a watcher. Each drop is
// counted; a dropped upsert is recovered on the item's next change.
type boundedQueue struct {
	ch    chan source.Event
	drops *atomic.Uint64
}

func newBoundedQueue(capacity int, drops *atomic.Uint64) *boundedQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &boundedQueue{ch: make(chan source.Event, capacity), drops: drops}
}

// push enqueues ev, evicting the oldest pending event if the queue is full.
func (q *boundedQueue) push(ev source.Event) {
	for {
		select {
		case q.ch <- ev:
			return
		default:
		}
		select {
		case <-q.ch:
			q.drops.Add(1)
		default:
		}
	}
}

func (q *boundedQueue) close() { close(q.ch) }
