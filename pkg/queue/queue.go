// Package queue provides named FIFO job queues with at-least-once
// delivery. Implementations back it with a broker or run in process.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a manager that has been closed.
var ErrClosed = errors.New("queue manager is closed")

// Job is one delivered unit of work. Jobs are ephemeral: they live on the
// wire and in flight, never in a store.
type Job struct {
	ID         string          `json:"id"`
	Queue      string          `json:"queue"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Processor handles one delivered job. The returned value is the job's
// outcome, recorded with the completion log. A non-nil error marks the
// job failed; it does not by itself trigger redelivery.
type Processor func(ctx context.Context, job Job) (any, error)

// Manager is the named-queue contract shared by all implementations.
//
// Delivery is at least once: a crash or restart may redeliver, and the
// manager never deduplicates. Callers that cannot tolerate duplicates
// must make payloads idempotent, for example by keying them with a
// caller-generated run id.
type Manager interface {
	// CreateQueue declares the named queue. Idempotent get-or-create.
	CreateQueue(ctx context.Context, name string) error

	// Enqueue publishes a job to the named queue, creating the queue if
	// it does not exist yet. Ordering is FIFO within a queue; there are
	// no priorities. Returns the generated job id.
	Enqueue(ctx context.Context, queueName, jobType string, payload any) (string, error)

	// RegisterWorker attaches the processor as the named queue's
	// consumer. Idempotent: at most one active consumer per queue name
	// per manager, and a second registration for the same queue is a
	// no-op.
	RegisterWorker(ctx context.Context, queueName string, processor Processor) error

	// QueueSize reports the number of jobs waiting in the named queue.
	QueueSize(ctx context.Context, name string) (int, error)

	// Close stops admitting new deliveries, waits for in-flight jobs to
	// finish, and releases every queue and consumer this manager owns.
	Close() error
}
