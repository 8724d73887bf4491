// Package memqueue is an in-process queue.Queue fake: a buffered channel
// plus an in-flight map, enough to exercise at-least-once semantics
// (explicit Ack, Nack-triggered immediate redelivery) in kernel tests
// without a real Redis instance.
package memqueue

import (
	"context"
	"strconv"
	"sync"

	"github.com/yungbote/neurobridge-backend/internal/jobkit/queue"
)

type entry struct {
	id            string
	payload       []byte
	deliveryCount int
}

type Queue struct {
	mu       sync.Mutex
	nextID   int
	pending  []*entry
	inFlight map[string]*entry
	notify   chan struct{}
}

func New() *Queue {
	return &Queue{
		inFlight: make(map[string]*entry),
		notify:   make(chan struct{}, 1),
	}
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) Publish(_ context.Context, payload []byte) (string, error) {
	q.mu.Lock()
	q.nextID++
	id := strconv.Itoa(q.nextID)
	q.pending = append(q.pending, &entry{id: id, payload: payload})
	q.mu.Unlock()
	q.wake()
	return id, nil
}

func (q *Queue) Consume(ctx context.Context, _ string, max int) ([]queue.Delivery, error) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			n := max
			if n > len(q.pending) {
				n = len(q.pending)
			}
			batch := q.pending[:n]
			q.pending = q.pending[n:]
			out := make([]queue.Delivery, 0, n)
			for _, e := range batch {
				e.deliveryCount++
				q.inFlight[e.id] = e
				out = append(out, queue.Delivery{ID: e.id, Payload: e.payload, DeliveryCount: e.deliveryCount})
			}
			q.mu.Unlock()
			return out, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *Queue) Ack(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, id)
	return nil
}

func (q *Queue) Nack(_ context.Context, id string) error {
	q.mu.Lock()
	e, ok := q.inFlight[id]
	if !ok {
		q.mu.Unlock()
		return nil
	}
	delete(q.inFlight, id)
	q.pending = append(q.pending, e)
	q.mu.Unlock()
	q.wake()
	return nil
}

// ReclaimStale is a no-op for memqueue: tests exercise redelivery via Nack
// directly rather than a visibility-timeout sweep.
func (q *Queue) ReclaimStale(_ context.Context, _ string, _ int64, _ int) ([]queue.Delivery, error) {
	return nil, nil
}

func (q *Queue) Close() error { return nil }
