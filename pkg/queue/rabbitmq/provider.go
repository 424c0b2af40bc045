// Package rabbitmq implements a RabbitMQ queue provider. Delivery is
// push-based: the broker feeds a consumer channel and the provider
// bridges each delivery to the handler. Retries go through a per-queue
// TTL retry queue that dead-letters back onto the work queue; exhausted
// jobs land on a durable dead queue.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/relayq/relayq/pkg/observability/logger"
	"github.com/relayq/relayq/pkg/queue"
)

const (
	// MetadataDeliveryToken keys the pending delivery in provider metadata.
	MetadataDeliveryToken = "rabbitmq_delivery_token"

	headerAttempts    = "x-relayq-attempts"
	headerMaxAttempts = "x-relayq-max-attempts"

	retrySuffix = ".retry"
	deadSuffix  = ".dead"

	defaultOperationTimeout = 30 * time.Second
	defaultRetryDelay       = 5 * time.Second
	maxPriority             = 10
)

// Config holds RabbitMQ provider configuration.
type Config struct {
	URL              string
	OperationTimeout time.Duration
	ConsumerTag      string
	// RetryDelay is how long nacked jobs sit on the retry queue before
	// the broker routes them back for another attempt.
	RetryDelay time.Duration
}

func (c *Config) normalize() {
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultOperationTimeout
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
}

type jobEnvelope struct {
	Job *queue.Job `json:"job"`
}

type pendingDelivery struct {
	delivery amqp.Delivery
	job      *queue.Job
}

type consumer struct {
	channel *amqp.Channel
	cancel  context.CancelFunc
	done    chan struct{}
}

// Provider implements queue.Provider and queue.Processor on RabbitMQ.
type Provider struct {
	log logger.Logger
	cfg Config

	mu        sync.RWMutex
	conn      *amqp.Connection
	pubCh     *amqp.Channel
	connected bool
	declared  map[string]bool
	pending   map[string]*pendingDelivery
	consumers map[string]*consumer
	completed map[string]int64
}

var (
	_ queue.Provider  = (*Provider)(nil)
	_ queue.Processor = (*Provider)(nil)
)

// New validates configuration; the broker is dialed by Connect.
func New(cfg Config, log logger.Logger) (*Provider, error) {
	if log == nil {
		return nil, queue.NewConfigurationError(queue.CodeInvalidConfig, "logger is required", nil)
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, queue.NewConfigurationError(queue.CodeInvalidConfig, "rabbitmq url is required", nil)
	}
	cfg.normalize()
	return &Provider{
		log:       log,
		cfg:       cfg,
		declared:  map[string]bool{},
		pending:   map[string]*pendingDelivery{},
		consumers: map[string]*consumer{},
		completed: map[string]int64{},
	}, nil
}

func (p *Provider) Name() string { return "rabbitmq" }

func (p *Provider) Capabilities() queue.Capabilities {
	return queue.Capabilities{
		Priority: true,
		Retries:  true,
		DLQ:      true,
	}
}

// Connect dials the broker and opens the publish channel.
func (p *Provider) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected {
		return nil
	}

	conn, err := amqp.Dial(p.cfg.URL)
	if err != nil {
		return queue.NewRuntimeError(queue.CodeConnectionLost, "connect to rabbitmq failed", true, err)
	}
	pubCh, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return queue.NewRuntimeError(queue.CodeConnectionLost, "open publish channel failed", true, err)
	}

	p.conn = conn
	p.pubCh = pubCh
	p.connected = true
	p.declared = map[string]bool{}
	return nil
}

// Disconnect stops consumers and closes the connection. Unacked
// deliveries are returned to their queues by the broker.
func (p *Provider) Disconnect(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil
	}
	p.connected = false

	var errs []error
	for queueName, c := range p.consumers {
		c.cancel()
		if err := c.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close consumer %s: %w", queueName, err))
		}
	}
	p.consumers = map[string]*consumer{}
	p.pending = map[string]*pendingDelivery{}

	if p.pubCh != nil {
		if err := p.pubCh.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publish channel: %w", err))
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	if len(errs) > 0 {
		return queue.NewRuntimeError(queue.CodeBackendFailure, fmt.Sprintf("rabbitmq close errors: %v", errs), false, nil)
	}
	return nil
}

// Add publishes a job to its work queue via the default exchange.
func (p *Provider) Add(ctx context.Context, job *queue.Job) (*queue.Job, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if err := p.ensureConnectedLocked(); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	if err := p.declareQueuesLocked(job.Queue); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	pubCh := p.pubCh
	p.mu.Unlock()

	stored := job.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	encoded, err := json.Marshal(jobEnvelope{Job: stored})
	if err != nil {
		return nil, queue.NewDataError(queue.CodeInvalidJob, "marshal job envelope failed", err).
			WithJob(stored.ID).WithQueue(stored.Queue)
	}

	opCtx, cancel := p.operationContext(ctx)
	defer cancel()
	if err := pubCh.PublishWithContext(opCtx, "", stored.Queue, false, false, amqp.Publishing{
		MessageId:    stored.ID,
		ContentType:  "application/json",
		Body:         encoded,
		DeliveryMode: amqp.Persistent,
		Priority:     clampPriority(stored.Priority),
		Timestamp:    stored.CreatedAt,
		Headers: amqp.Table{
			headerAttempts:    int32(stored.Attempts),
			headerMaxAttempts: int32(stored.MaxAttempts),
		},
	}); err != nil {
		return nil, p.runtimeError("publish job failed", err).WithJob(stored.ID).WithQueue(stored.Queue)
	}
	return stored.Clone(), nil
}

// Process opens a consumer channel with prefetch equal to the requested
// concurrency and bridges each delivery to the handler. Settlement goes
// through Ack and Nack, correlated by a delivery token in provider
// metadata. The returned shutdown cancels the consumer and waits for
// in-flight handler invocations.
func (p *Provider) Process(ctx context.Context, queueName string, handler queue.Handler, opts queue.ProcessOptions) (queue.ShutdownFunc, error) {
	if handler == nil {
		return nil, queue.NewConfigurationError(queue.CodeInvalidConfig, "handler is required", nil)
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	p.mu.Lock()
	if err := p.ensureConnectedLocked(); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	if _, exists := p.consumers[queueName]; exists {
		p.mu.Unlock()
		return nil, queue.NewConfigurationError(queue.CodeInvalidConfig, "queue already has a consumer", nil).
			WithQueue(queueName)
	}
	if err := p.declareQueuesLocked(queueName); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	conn := p.conn
	p.mu.Unlock()

	ch, err := conn.Channel()
	if err != nil {
		return nil, p.runtimeError("open consumer channel failed", err).WithQueue(queueName)
	}
	if err := ch.Qos(concurrency, 0, false); err != nil {
		_ = ch.Close()
		return nil, p.runtimeError("set prefetch failed", err).WithQueue(queueName)
	}
	deliveries, err := ch.Consume(queueName, p.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, p.runtimeError("start consumer failed", err).WithQueue(queueName)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &consumer{channel: ch, cancel: cancel, done: make(chan struct{})}
	p.mu.Lock()
	p.consumers[queueName] = c
	p.mu.Unlock()

	var handlers sync.WaitGroup
	go func() {
		defer close(c.done)
		for {
			select {
			case <-loopCtx.Done():
				handlers.Wait()
				return
			case d, ok := <-deliveries:
				if !ok {
					handlers.Wait()
					return
				}
				active, err := p.registerDelivery(queueName, d)
				if err != nil {
					p.log.Warn("discarding malformed delivery", "queue", queueName, "error", err)
					_ = d.Reject(false)
					if opts.OnError != nil {
						opts.OnError(err)
					}
					continue
				}
				handlers.Add(1)
				go func() {
					defer handlers.Done()
					if err := handler(loopCtx, active.Job.Payload, active); err != nil && opts.OnError != nil {
						opts.OnError(err)
					}
				}()
			}
		}
	}()

	return func(shutdownCtx context.Context) error {
		_ = ch.Cancel(p.cfg.ConsumerTag, false)
		cancel()
		select {
		case <-shutdownCtx.Done():
			return shutdownCtx.Err()
		case <-c.done:
		}
		p.mu.Lock()
		delete(p.consumers, queueName)
		p.mu.Unlock()
		return ch.Close()
	}, nil
}

// Ack acknowledges the pending delivery.
func (p *Provider) Ack(ctx context.Context, active *queue.ActiveJob, result []byte) error {
	pd, err := p.popDelivery(active)
	if err != nil {
		return err
	}
	if err := pd.delivery.Ack(false); err != nil {
		return p.runtimeError("ack delivery failed", err).WithJob(pd.job.ID).WithQueue(pd.job.Queue)
	}
	p.mu.Lock()
	p.completed[pd.job.Queue]++
	p.mu.Unlock()
	return nil
}

// Nack settles a failed delivery. With attempts remaining the job is
// republished to the retry queue, whose TTL dead-letters it back onto
// the work queue; exhausted jobs go to the dead queue. The original
// delivery is acked in both cases so the broker does not redeliver it.
func (p *Provider) Nack(ctx context.Context, active *queue.ActiveJob, cause error) error {
	pd, err := p.popDelivery(active)
	if err != nil {
		return err
	}

	job := pd.job
	job.Attempts++
	if cause != nil {
		job.Error = cause.Error()
	}

	target := job.Queue + deadSuffix
	expiration := ""
	if job.Attempts < job.MaxAttempts {
		target = job.Queue + retrySuffix
		expiration = fmt.Sprintf("%d", p.cfg.RetryDelay.Milliseconds())
		job.Status = queue.StatusDelayed
	} else {
		job.Status = queue.StatusFailed
		job.FailedAt = time.Now().UTC()
	}

	encoded, err := json.Marshal(jobEnvelope{Job: job})
	if err != nil {
		_ = pd.delivery.Reject(false)
		return queue.NewDataError(queue.CodeInvalidJob, "marshal settled job failed", err).
			WithJob(job.ID).WithQueue(job.Queue)
	}

	p.mu.RLock()
	pubCh := p.pubCh
	p.mu.RUnlock()
	if pubCh == nil {
		return queue.NewRuntimeError(queue.CodeNotConnected, "rabbitmq provider is not connected", false, nil)
	}

	opCtx, cancel := p.operationContext(ctx)
	defer cancel()
	if err := pubCh.PublishWithContext(opCtx, "", target, false, false, amqp.Publishing{
		MessageId:    job.ID,
		ContentType:  "application/json",
		Body:         encoded,
		DeliveryMode: amqp.Persistent,
		Expiration:   expiration,
		Headers: amqp.Table{
			headerAttempts:    int32(job.Attempts),
			headerMaxAttempts: int32(job.MaxAttempts),
		},
	}); err != nil {
		_ = pd.delivery.Nack(false, true)
		return p.runtimeError("publish settled job failed", err).WithJob(job.ID).WithQueue(job.Queue)
	}
	if err := pd.delivery.Ack(false); err != nil {
		return p.runtimeError("ack settled delivery failed", err).WithJob(job.ID).WithQueue(job.Queue)
	}
	return nil
}

// Pause is not supported by RabbitMQ.
func (p *Provider) Pause(ctx context.Context, queueName string) error {
	return queue.NewConfigurationError(queue.CodeNotSupported, "rabbitmq does not support pausing queues", nil).
		WithQueue(queueName)
}

// Resume is not supported by RabbitMQ.
func (p *Provider) Resume(ctx context.Context, queueName string) error {
	return queue.NewConfigurationError(queue.CodeNotSupported, "rabbitmq does not support pausing queues", nil).
		WithQueue(queueName)
}

// Delete removes the work queue and its retry and dead queues.
func (p *Provider) Delete(ctx context.Context, queueName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureConnectedLocked(); err != nil {
		return err
	}
	for _, name := range []string{queueName, queueName + retrySuffix, queueName + deadSuffix} {
		if _, err := p.pubCh.QueueDelete(name, false, false, false); err != nil {
			return p.runtimeError("delete queue failed", err).WithQueue(queueName)
		}
	}
	delete(p.declared, queueName)
	delete(p.completed, queueName)
	return nil
}

// Stats reads broker queue depths. Active counts unsettled deliveries
// held by this process; completed is a process-local counter.
func (p *Provider) Stats(ctx context.Context, queueName string) (queue.Stats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureConnectedLocked(); err != nil {
		return queue.Stats{}, err
	}

	waiting, err := p.queueDepthLocked(queueName)
	if err != nil {
		return queue.Stats{}, err
	}
	delayed, err := p.queueDepthLocked(queueName + retrySuffix)
	if err != nil {
		return queue.Stats{}, err
	}
	failed, err := p.queueDepthLocked(queueName + deadSuffix)
	if err != nil {
		return queue.Stats{}, err
	}

	var active int64
	for _, pd := range p.pending {
		if pd.job.Queue == queueName {
			active++
		}
	}

	return queue.Stats{
		Queue:     queueName,
		Waiting:   waiting,
		Delayed:   delayed,
		Active:    active,
		Completed: p.completed[queueName],
		Failed:    failed,
	}, nil
}

// Health verifies the connection by opening and closing a channel.
func (p *Provider) Health(ctx context.Context) (queue.Health, error) {
	p.mu.RLock()
	conn := p.conn
	connected := p.connected
	p.mu.RUnlock()

	if !connected || conn == nil || conn.IsClosed() {
		return queue.Health{Connected: false, Error: "not connected"}, nil
	}

	start := time.Now()
	ch, err := conn.Channel()
	if err != nil {
		return queue.Health{Connected: false, Error: err.Error()}, nil
	}
	_ = ch.Close()
	return queue.Health{Connected: true, Latency: time.Since(start)}, nil
}

func (p *Provider) ensureConnectedLocked() error {
	if !p.connected || p.conn == nil || p.conn.IsClosed() {
		return queue.NewRuntimeError(queue.CodeNotConnected, "rabbitmq provider is not connected", false, nil)
	}
	return nil
}

// declareQueuesLocked declares the work, retry, and dead queues. The
// retry queue dead-letters back onto the work queue through the default
// exchange.
func (p *Provider) declareQueuesLocked(queueName string) error {
	if p.declared[queueName] {
		return nil
	}

	if _, err := p.pubCh.QueueDeclare(queueName, true, false, false, false, amqp.Table{
		"x-max-priority": int32(maxPriority),
	}); err != nil {
		return p.runtimeError("declare queue failed", err).WithQueue(queueName)
	}
	if _, err := p.pubCh.QueueDeclare(queueName+retrySuffix, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queueName,
	}); err != nil {
		return p.runtimeError("declare retry queue failed", err).WithQueue(queueName)
	}
	if _, err := p.pubCh.QueueDeclare(queueName+deadSuffix, true, false, false, false, nil); err != nil {
		return p.runtimeError("declare dead queue failed", err).WithQueue(queueName)
	}

	p.declared[queueName] = true
	return nil
}

func (p *Provider) registerDelivery(queueName string, d amqp.Delivery) (*queue.ActiveJob, error) {
	var envelope jobEnvelope
	if err := json.Unmarshal(d.Body, &envelope); err != nil || envelope.Job == nil {
		return nil, queue.NewDataError(queue.CodeInvalidJob, "decode delivery payload failed", err).
			WithQueue(queueName)
	}
	job := envelope.Job
	if strings.TrimSpace(job.Queue) == "" {
		job.Queue = queueName
	}
	if attempts, ok := d.Headers[headerAttempts].(int32); ok {
		job.Attempts = int(attempts)
	}
	job.Status = queue.StatusActive
	job.ProcessedAt = time.Now().UTC()

	token := queue.RandomToken()
	p.mu.Lock()
	p.pending[token] = &pendingDelivery{delivery: d, job: job}
	p.mu.Unlock()

	return &queue.ActiveJob{
		Job:              job,
		ProviderMetadata: map[string]string{MetadataDeliveryToken: token},
	}, nil
}

func (p *Provider) popDelivery(active *queue.ActiveJob) (*pendingDelivery, error) {
	if active == nil || active.Job == nil {
		return nil, queue.NewDataError(queue.CodeInvalidJob, "active job is required", nil)
	}
	token := strings.TrimSpace(active.ProviderMetadata[MetadataDeliveryToken])
	if token == "" {
		return nil, queue.NewDataError(queue.CodeUnknownLease, "delivery token is missing", nil).
			WithJob(active.Job.ID).WithQueue(active.Job.Queue)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	pd, ok := p.pending[token]
	if !ok {
		return nil, queue.NewNotFoundError(queue.CodeUnknownLease, "delivery not found or already settled").
			WithJob(active.Job.ID).WithQueue(active.Job.Queue)
	}
	delete(p.pending, token)
	return pd, nil
}

func (p *Provider) queueDepthLocked(name string) (int64, error) {
	state, err := p.pubCh.QueueDeclarePassive(name, true, false, false, false, nil)
	if err != nil {
		return 0, nil
	}
	return int64(state.Messages), nil
}

func (p *Provider) runtimeError(message string, cause error) *queue.Error {
	return queue.NewRuntimeError(queue.CodeBackendFailure, message, true, cause)
}

func (p *Provider) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, p.cfg.OperationTimeout)
}

func clampPriority(priority int) uint8 {
	if priority < 0 {
		return 0
	}
	if priority > maxPriority {
		return maxPriority
	}
	return uint8(priority)
}
