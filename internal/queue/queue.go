package queue

import (
	log "log/slog"
	"sync"
	"time"

	"ultron/internal/command"
)

// Queue is the bounded FIFO between the listen worker and the orchestrator.
// When full, the oldest unread utterance is dropped in favor of the new one:
// a stale command is worth less than a fresh one. A plain channel cannot
// shed its oldest element, hence the mutex ring underneath.
type Queue struct {
	mu    sync.Mutex
	items []command.Utterance
	cap   int
	ready chan struct{}
}

func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 8
	}
	return &Queue{
		cap:   capacity,
		ready: make(chan struct{}, 1),
	}
}

// Push enqueues u, evicting the oldest entry when the queue is at capacity.
// Returns true when an eviction happened.
func (q *Queue) Push(u command.Utterance) (dropped bool) {
	q.mu.Lock()
	if len(q.items) >= q.cap {
		old := q.items[0]
		q.items = q.items[1:]
		dropped = true
		log.Warn("Utterance dropped, queue full", "text", old.Text, "age", time.Since(old.CapturedAt))
	}
	q.items = append(q.items, u)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return dropped
}

// Pop removes the oldest utterance, waiting up to timeout for one to arrive.
// The second return is false on timeout. Single-consumer: the orchestrator
// is the only caller, which is what gives commands their FIFO guarantee.
func (q *Queue) Pop(timeout time.Duration) (command.Utterance, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			u := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return u, true
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-deadline.C:
			return command.Utterance{}, false
		}
	}
}

// Len reports the number of queued utterances.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap reports the configured bound.
func (q *Queue) Cap() int { return q.cap }
