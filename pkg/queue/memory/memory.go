// Package memory implements the queue.Manager contract in process. It
// backs unit tests and single-process deployments that run without a
// broker.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scenarist/scenarist/pkg/queue"
)

// Ensure Manager implements queue.Manager at compile time.
var _ queue.Manager = (*Manager)(nil)

// Manager keeps one FIFO buffer per named queue. Each registered worker
// gets a dispatcher goroutine that delivers buffered jobs in order, one
// at a time.
type Manager struct {
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	queues map[string]*fifo
	wg     sync.WaitGroup
}

// fifo is one named queue's buffer and consumer state. Its cond guards
// pending and stopped.
type fifo struct {
	name    string
	cond    *sync.Cond
	pending []queue.Job
	stopped bool
	// registered flips once; later RegisterWorker calls are no-ops.
	registered bool
}

// NewManager creates an empty in-process queue manager.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		logger: logger,
		queues: make(map[string]*fifo),
	}
}

// CreateQueue declares the named queue. Idempotent.
func (m *Manager) CreateQueue(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return queue.ErrClosed
	}
	m.getOrCreate(name)
	return nil
}

// getOrCreate must run with m.mu held.
func (m *Manager) getOrCreate(name string) *fifo {
	q, ok := m.queues[name]
	if !ok {
		q = &fifo{name: name, cond: sync.NewCond(&sync.Mutex{})}
		m.queues[name] = q
		m.logger.Info("Declared queue", slog.String("queue", name))
	}
	return q
}

// Enqueue appends one job to the named queue's buffer.
func (m *Manager) Enqueue(_ context.Context, queueName, jobType string, payload any) (string, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job payload: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", queue.ErrClosed
	}
	q := m.getOrCreate(queueName)
	m.mu.Unlock()

	job := queue.Job{
		ID:         uuid.NewString(),
		Queue:      queueName,
		Type:       jobType,
		Payload:    payloadJSON,
		EnqueuedAt: time.Now().UTC(),
	}

	q.cond.L.Lock()
	if q.stopped {
		q.cond.L.Unlock()
		return "", queue.ErrClosed
	}
	q.pending = append(q.pending, job)
	q.cond.Signal()
	q.cond.L.Unlock()

	m.logger.Info("Enqueued job",
		slog.String("job_id", job.ID),
		slog.String("queue", queueName),
		slog.String("type", jobType))
	return job.ID, nil
}

// RegisterWorker starts the queue's dispatcher. A second registration for
// the same queue is a no-op.
func (m *Manager) RegisterWorker(_ context.Context, queueName string, processor queue.Processor) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return queue.ErrClosed
	}
	q := m.getOrCreate(queueName)
	m.mu.Unlock()

	q.cond.L.Lock()
	if q.registered {
		q.cond.L.Unlock()
		m.logger.Debug("Worker already registered for queue", slog.String("queue", queueName))
		return nil
	}
	q.registered = true
	q.cond.L.Unlock()

	m.wg.Add(1)
	go m.dispatch(q, processor)
	m.logger.Info("Registered worker", slog.String("queue", queueName))
	return nil
}

// dispatch delivers buffered jobs in order until the manager closes.
func (m *Manager) dispatch(q *fifo, processor queue.Processor) {
	defer m.wg.Done()
	logger := m.logger.With(slog.String("queue", q.name))
	for {
		q.cond.L.Lock()
		for len(q.pending) == 0 && !q.stopped {
			q.cond.Wait()
		}
		if q.stopped {
			q.cond.L.Unlock()
			logger.Info("Consumer stopped")
			return
		}
		job := q.pending[0]
		q.pending = q.pending[1:]
		q.cond.L.Unlock()

		logger.Info("Dequeued job", slog.String("job_id", job.ID), slog.String("type", job.Type))
		if _, err := processor(context.Background(), job); err != nil {
			logger.Error("Job processor failed",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()))
		} else {
			logger.Info("Job completed", slog.String("job_id", job.ID))
		}
	}
}

// QueueSize reports how many jobs sit in the buffer. A queue that was
// never created has size zero.
func (m *Manager) QueueSize(_ context.Context, name string) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, queue.ErrClosed
	}
	q, ok := m.queues[name]
	m.mu.Unlock()
	if !ok {
		return 0, nil
	}
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	return len(q.pending), nil
}

// Close stops every dispatcher after its in-flight job finishes. Jobs
// still buffered are dropped; this implementation has no durability.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	queues := make([]*fifo, 0, len(m.queues))
	for _, q := range m.queues {
		queues = append(queues, q)
	}
	m.mu.Unlock()

	for _, q := range queues {
		q.cond.L.Lock()
		q.stopped = true
		q.cond.Broadcast()
		q.cond.L.Unlock()
	}
	m.wg.Wait()
	m.logger.Info("Closed in-process queue manager")
	return nil
}
