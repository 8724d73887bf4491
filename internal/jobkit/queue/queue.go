// Package queue defines the kernel's Queue port: an at-least-once delivery
// transport for job and task messages. The Redis Streams implementation
// lives in internal/clients/redis (adapted from the teacher's pub/sub-based
// SSEBus); an in-memory fake lives in queue/memqueue for kernel unit tests
// (explicit Ack, immediate redelivery on Nack, no visibility timeout).
package queue

import "context"

// Delivery is one message handed to a consumer, carrying enough identity for
// the consumer to Ack or Nack it against the underlying transport (a Redis
// Streams message ID under the real implementation).
type Delivery struct {
	ID      string
	Payload []byte
	// DeliveryCount is how many times this message (or its claimed
	// redelivery) has been handed to a consumer, 1 on first delivery.
	DeliveryCount int
}

// Queue is a named at-least-once message channel. JobQueue and TaskQueue
// are two independent Queue instances (spec.md §5: job messages and task
// messages are dispatched and consumed independently).
type Queue interface {
	// Publish enqueues payload, returning the transport-assigned message id.
	Publish(ctx context.Context, payload []byte) (id string, err error)

	// Consume blocks until at least one message is available or ctx is
	// done, returning up to max newly claimed messages. Messages are not
	// visible to other consumers in the same group until Ack'd or their
	// visibility timeout expires.
	Consume(ctx context.Context, consumerName string, max int) ([]Delivery, error)

	Ack(ctx context.Context, id string) error

	// Nack makes id immediately eligible for redelivery instead of waiting
	// out its visibility timeout — used when a handler fails in a way the
	// kernel knows is safe to retry immediately.
	Nack(ctx context.Context, id string) error

	// ReclaimStale returns messages whose visibility timeout has elapsed
	// without an Ack, claiming them for consumerName so the caller can
	// redrive or dead-letter them (spec.md §5 at-least-once / poison
	// message handling).
	ReclaimStale(ctx context.Context, consumerName string, minIdle int64, max int) ([]Delivery, error)

	Close() error
}
