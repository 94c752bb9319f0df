// Package rabbitmq implements the queue.Manager contract on RabbitMQ.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/scenarist/scenarist/pkg/queue"
)

const (
	// Exchange all job queues bind to, routed by queue name.
	jobsExchange = "scenario_jobs_exchange"
	exchangeType = "direct"

	contentTypeJSON   = "application/json"
	consumerTagPrefix = "scenario-worker-"
	publishTimeout    = 5 * time.Second
)

// Ensure Manager implements queue.Manager at compile time.
var _ queue.Manager = (*Manager)(nil)

// Manager implements queue.Manager using one RabbitMQ connection.
// Channels are opened per operation; each registered consumer holds its
// own long-lived channel.
type Manager struct {
	conn        *amqp.Connection
	concurrency int
	logger      *slog.Logger

	// Queues declared in this session, to avoid redeclaring constantly.
	declaredQueues sync.Map // map[string]bool
	declareMu      sync.Mutex

	mu        sync.Mutex
	closed    bool
	consumers map[string]*consumer
	wg        sync.WaitGroup
}

// consumer is one registered worker's channel and subscription.
type consumer struct {
	queueName string
	tag       string
	channel   *amqp.Channel
}

// NewManager connects to RabbitMQ and declares the jobs exchange.
// Concurrency bounds how many deliveries one registered worker processes
// at a time; values below 1 mean 1.
func NewManager(url string, concurrency int, logger *slog.Logger) (*Manager, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	logger.Info("RabbitMQ connection established")

	// Log unexpected connection closures.
	closeChan := make(chan *amqp.Error)
	conn.NotifyClose(closeChan)
	go func() {
		amqpErr := <-closeChan
		if amqpErr != nil {
			logger.Error("RabbitMQ connection closed unexpectedly", slog.String("error", amqpErr.Error()))
		} else {
			logger.Info("RabbitMQ connection closed normally")
		}
	}()

	m := &Manager{
		conn:        conn,
		concurrency: concurrency,
		logger:      logger,
		consumers:   make(map[string]*consumer),
	}
	if err := m.declareExchange(); err != nil {
		conn.Close()
		return nil, err
	}
	return m, nil
}

// declareExchange ensures the jobs exchange exists. Uses a temporary
// channel.
func (m *Manager) declareExchange() error {
	ch, err := m.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open temporary channel for exchange declare: %w", err)
	}
	defer ch.Close()

	err = ch.ExchangeDeclare(
		jobsExchange, // name
		exchangeType, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange '%s': %w", jobsExchange, err)
	}
	m.logger.Info("Declared exchange", slog.String("exchange", jobsExchange))
	return nil
}

// CreateQueue declares and binds the named queue. Idempotent.
func (m *Manager) CreateQueue(_ context.Context, name string) error {
	return m.declareQueue(name)
}

// declareQueue ensures a durable queue exists and is bound to the
// exchange under its own name. Uses a temporary channel.
func (m *Manager) declareQueue(name string) error {
	if _, loaded := m.declaredQueues.Load(name); loaded {
		return nil
	}

	// One goroutine declares a given queue at a time; protects the
	// sync.Map write.
	m.declareMu.Lock()
	defer m.declareMu.Unlock()

	if _, loaded := m.declaredQueues.Load(name); loaded {
		return nil
	}

	ch, err := m.conn.Channel()
	if err != nil {
		if m.conn.IsClosed() {
			return queue.ErrClosed
		}
		return fmt.Errorf("failed to open temporary channel for queue declare: %w", err)
	}
	defer ch.Close()

	// Plain durable FIFO queue, no priority levels.
	_, err = ch.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue '%s': %w", name, err)
	}

	err = ch.QueueBind(
		name,         // queue name
		name,         // routing key
		jobsExchange, // exchange
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue '%s' to exchange '%s': %w", name, jobsExchange, err)
	}

	m.declaredQueues.Store(name, true)
	m.logger.Info("Declared and bound queue", slog.String("queue", name), slog.String("exchange", jobsExchange))
	return nil
}

// Enqueue publishes one persistent job message using a temporary channel.
func (m *Manager) Enqueue(ctx context.Context, queueName, jobType string, payload any) (string, error) {
	if err := m.declareQueue(queueName); err != nil {
		return "", err
	}

	ch, err := m.conn.Channel()
	if err != nil {
		if m.conn.IsClosed() {
			return "", queue.ErrClosed
		}
		return "", fmt.Errorf("failed to open temporary channel for publish: %w", err)
	}
	defer ch.Close()

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job payload: %w", err)
	}

	jobID := uuid.NewString()
	job := queue.Job{
		ID:         jobID,
		Queue:      queueName,
		Type:       jobType,
		Payload:    payloadJSON,
		EnqueuedAt: time.Now().UTC(),
	}
	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job message: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = ch.PublishWithContext(pubCtx,
		jobsExchange, // exchange
		queueName,    // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			ContentType:  contentTypeJSON,
			DeliveryMode: amqp.Persistent,
			Timestamp:    job.EnqueuedAt,
			Type:         jobType,
			Body:         body,
			MessageId:    jobID,
		})
	if err != nil {
		return "", fmt.Errorf("failed to publish message to queue '%s': %w", queueName, err)
	}

	m.logger.Info("Enqueued job",
		slog.String("job_id", jobID),
		slog.String("queue", queueName),
		slog.String("type", jobType),
	)
	return jobID, nil
}

// RegisterWorker opens a dedicated channel for the queue and starts
// consuming on it. Registering the same queue again is a no-op.
func (m *Manager) RegisterWorker(_ context.Context, queueName string, processor queue.Processor) error {
	if err := m.declareQueue(queueName); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return queue.ErrClosed
	}
	if _, exists := m.consumers[queueName]; exists {
		m.logger.Debug("Worker already registered for queue", slog.String("queue", queueName))
		return nil
	}

	ch, err := m.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel for consumer: %w", err)
	}
	// Bound unacked deliveries to the processing concurrency.
	if err := ch.Qos(m.concurrency, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	tag := consumerTagPrefix + queueName
	deliveries, err := ch.Consume(
		queueName, // queue
		tag,       // consumer tag
		false,     // auto-ack
		false,     // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // args
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to start consuming from queue '%s': %w", queueName, err)
	}

	c := &consumer{queueName: queueName, tag: tag, channel: ch}
	m.consumers[queueName] = c
	for i := 0; i < m.concurrency; i++ {
		m.wg.Add(1)
		go m.consumeLoop(c, deliveries, processor)
	}
	m.logger.Info("Registered worker",
		slog.String("queue", queueName),
		slog.Int("concurrency", m.concurrency))
	return nil
}

// consumeLoop handles deliveries until the subscription is cancelled and
// the delivery channel drains.
func (m *Manager) consumeLoop(c *consumer, deliveries <-chan amqp.Delivery, processor queue.Processor) {
	defer m.wg.Done()
	logger := m.logger.With(slog.String("queue", c.queueName))
	for msg := range deliveries {
		m.handleDelivery(logger, c.queueName, msg, processor)
	}
	logger.Info("Consumer stopped")
}

// handleDelivery decodes, processes, and always acknowledges one message.
// A processor error is recorded by the processor's own bookkeeping; the
// message is still acked so a deterministic failure cannot loop through
// redelivery forever.
func (m *Manager) handleDelivery(logger *slog.Logger, queueName string, msg amqp.Delivery, processor queue.Processor) {
	var job queue.Job
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		logger.Error("Failed to unmarshal job message, dropping it",
			slog.String("message_id", msg.MessageId),
			slog.String("error", err.Error()))
		if nackErr := msg.Nack(false, false); nackErr != nil {
			logger.Error("Failed to NACK malformed message", slog.String("error", nackErr.Error()))
		}
		return
	}
	job.Queue = queueName

	logger.Info("Dequeued job",
		slog.String("job_id", job.ID),
		slog.String("type", job.Type),
		slog.Bool("redelivered", msg.Redelivered))

	if _, err := processor(context.Background(), job); err != nil {
		logger.Error("Job processor failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))
	} else {
		logger.Info("Job completed", slog.String("job_id", job.ID))
	}

	if err := msg.Ack(false); err != nil {
		logger.Error("Failed to ACK message",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))
	}
}

// QueueSize reads the message count with a passive declare on a temporary
// channel. A queue that does not exist yet has size zero.
func (m *Manager) QueueSize(_ context.Context, name string) (int, error) {
	ch, err := m.conn.Channel()
	if err != nil {
		if m.conn.IsClosed() {
			return 0, queue.ErrClosed
		}
		return 0, fmt.Errorf("failed to open temporary channel for queue size check: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclarePassive(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		if amqpErr, ok := err.(*amqp.Error); ok && amqpErr.Code == amqp.NotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to passively declare queue '%s' to get size: %w", name, err)
	}
	return q.Messages, nil
}

// Close cancels every subscription, waits for in-flight deliveries to
// finish, and closes the connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	consumers := make([]*consumer, 0, len(m.consumers))
	for _, c := range m.consumers {
		consumers = append(consumers, c)
	}
	m.mu.Unlock()

	for _, c := range consumers {
		if err := c.channel.Cancel(c.tag, false); err != nil {
			m.logger.Warn("Failed to cancel consumer",
				slog.String("queue", c.queueName),
				slog.String("error", err.Error()))
		}
	}
	m.wg.Wait()
	for _, c := range consumers {
		if err := c.channel.Close(); err != nil {
			m.logger.Warn("Failed to close consumer channel",
				slog.String("queue", c.queueName),
				slog.String("error", err.Error()))
		}
	}

	m.logger.Info("Closing RabbitMQ connection")
	if m.conn != nil && !m.conn.IsClosed() {
		if err := m.conn.Close(); err != nil {
			m.logger.Error("Failed to close RabbitMQ connection", slog.String("error", err.Error()))
			return err
		}
	}
	return nil
}
