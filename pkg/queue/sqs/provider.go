// Package sqs implements an AWS SQS queue provider. Jobs ride as JSON
// message bodies; the receipt handle of each delivery is carried in
// provider metadata so settlement can reference it.
package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/relayq/relayq/pkg/observability/logger"
	"github.com/relayq/relayq/pkg/queue"
)

const (
	// MetadataReceiptHandle keys the SQS receipt handle in provider metadata.
	MetadataReceiptHandle = "sqs_receipt_handle"
	// MetadataQueueURL keys the resolved queue URL in provider metadata.
	MetadataQueueURL = "sqs_queue_url"

	defaultOperationTimeout  = 30 * time.Second
	defaultVisibilityTimeout = 30

	maxDelay     = 15 * time.Minute
	maxBatchSize = 10
	maxLongPoll  = 20 * time.Second
	maxJobSize   = 256 * 1024
)

// Config holds SQS provider configuration.
type Config struct {
	Region            string
	Endpoint          string
	AccessKeyID       string
	SecretAccessKey   string
	SessionToken      string
	OperationTimeout  time.Duration
	VisibilityTimeout int32
	// RetryDelaySeconds delays redelivery of nacked jobs with attempts
	// remaining.
	RetryDelaySeconds int32
}

func (c *Config) normalize() {
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultOperationTimeout
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = defaultVisibilityTimeout
	}
	if c.RetryDelaySeconds < 0 {
		c.RetryDelaySeconds = 0
	}
}

type jobEnvelope struct {
	Job *queue.Job `json:"job"`
}

// Provider implements queue.Provider and queue.Fetcher on SQS.
type Provider struct {
	client *awssqs.Client
	log    logger.Logger
	cfg    Config

	mu        sync.RWMutex
	connected bool
	queueURLs map[string]string
}

var (
	_ queue.Provider = (*Provider)(nil)
	_ queue.Fetcher  = (*Provider)(nil)
)

// New builds the SQS client. Custom endpoints (localstack) and static
// credentials are supported; connectivity is verified by Connect.
func New(cfg Config, log logger.Logger) (*Provider, error) {
	if log == nil {
		return nil, queue.NewConfigurationError(queue.CodeInvalidConfig, "logger is required", nil)
	}
	if strings.TrimSpace(cfg.Region) == "" {
		return nil, queue.NewConfigurationError(queue.CodeInvalidConfig, "aws region is required", nil)
	}
	cfg.normalize()

	loadOptions := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOptions...)
	if err != nil {
		return nil, queue.NewConfigurationError(queue.CodeInvalidConfig, "load aws config failed", err)
	}

	var opts []func(*awssqs.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *awssqs.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return &Provider{
		client:    awssqs.NewFromConfig(awsCfg, opts...),
		log:       log,
		cfg:       cfg,
		queueURLs: map[string]string{},
	}, nil
}

func (p *Provider) Name() string { return "sqs" }

func (p *Provider) Capabilities() queue.Capabilities {
	return queue.Capabilities{
		DelayedJobs:  true,
		Batching:     true,
		Retries:      true,
		LongPolling:  true,
		MaxJobSize:   maxJobSize,
		MaxBatchSize: maxBatchSize,
		MaxDelay:     maxDelay,
	}
}

// Connect verifies API reachability with a ListQueues call.
func (p *Provider) Connect(ctx context.Context) error {
	opCtx, cancel := p.operationContext(ctx)
	defer cancel()
	if _, err := p.client.ListQueues(opCtx, &awssqs.ListQueuesInput{MaxResults: aws.Int32(1)}); err != nil {
		return queue.NewRuntimeError(queue.CodeConnectionLost, "sqs is not reachable", true, err)
	}
	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	return nil
}

// Disconnect drops cached queue URLs. Unsettled deliveries become
// visible again after their visibility timeout.
func (p *Provider) Disconnect(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	p.queueURLs = map[string]string{}
	return nil
}

// Add sends a job as one SQS message. Delays ride on DelaySeconds.
func (p *Provider) Add(ctx context.Context, job *queue.Job) (*queue.Job, error) {
	if err := p.ensureConnected(); err != nil {
		return nil, err
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}

	stored := job.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	encoded, err := json.Marshal(jobEnvelope{Job: stored})
	if err != nil {
		return nil, queue.NewDataError(queue.CodeInvalidJob, "marshal job envelope failed", err).
			WithJob(stored.ID).WithQueue(stored.Queue)
	}
	if len(encoded) > maxJobSize {
		return nil, queue.NewDataError(queue.CodePayloadTooLarge, "encoded job exceeds sqs message size limit", nil).
			WithJob(stored.ID).WithQueue(stored.Queue)
	}

	queueURL, err := p.resolveQueueURL(ctx, stored.Queue)
	if err != nil {
		return nil, err
	}

	input := &awssqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(string(encoded)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"job_name": {DataType: aws.String("String"), StringValue: aws.String(stored.Name)},
		},
	}
	if !stored.ScheduledFor.IsZero() {
		delay := time.Until(stored.ScheduledFor)
		if delay > 0 {
			input.DelaySeconds = int32(delay.Round(time.Second) / time.Second)
		}
	}

	opCtx, cancel := p.operationContext(ctx)
	defer cancel()
	if _, err := p.client.SendMessage(opCtx, input); err != nil {
		return nil, p.runtimeError("send message failed", err).WithJob(stored.ID).WithQueue(stored.Queue)
	}
	return stored.Clone(), nil
}

// Fetch receives up to batchSize messages. A positive wait maps onto SQS
// long polling, capped at the 20-second API limit. Attempts are derived
// from ApproximateReceiveCount so the count survives worker restarts.
func (p *Provider) Fetch(ctx context.Context, queueName string, batchSize int, wait time.Duration) ([]*queue.ActiveJob, error) {
	if err := p.ensureConnected(); err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	if batchSize > maxBatchSize {
		batchSize = maxBatchSize
	}
	if wait > maxLongPoll {
		wait = maxLongPoll
	}

	queueURL, err := p.resolveQueueURL(ctx, queueName)
	if err != nil {
		return nil, err
	}

	timeout := p.cfg.OperationTimeout
	if wait > 0 {
		timeout += wait
	}
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := p.client.ReceiveMessage(opCtx, &awssqs.ReceiveMessageInput{
		QueueUrl:              aws.String(queueURL),
		MaxNumberOfMessages:   int32(batchSize),
		WaitTimeSeconds:       int32(wait / time.Second),
		VisibilityTimeout:     p.cfg.VisibilityTimeout,
		MessageAttributeNames: []string{"All"},
		AttributeNames:        []types.QueueAttributeName{types.QueueAttributeName(types.MessageSystemAttributeNameApproximateReceiveCount)},
	})
	if err != nil {
		return nil, p.runtimeError("receive messages failed", err).WithQueue(queueName)
	}

	jobs := make([]*queue.ActiveJob, 0, len(out.Messages))
	for _, msg := range out.Messages {
		var envelope jobEnvelope
		if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &envelope); err != nil || envelope.Job == nil {
			p.log.Warn("discarding malformed sqs message", "queue", queueName, "error", err)
			p.deleteMessage(ctx, queueURL, msg.ReceiptHandle)
			continue
		}
		job := envelope.Job
		if strings.TrimSpace(job.Queue) == "" {
			job.Queue = queueName
		}
		job.Status = queue.StatusActive
		job.ProcessedAt = time.Now().UTC()
		if raw, ok := msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
			if receives, convErr := strconv.Atoi(raw); convErr == nil && receives > 0 {
				job.Attempts = receives - 1
			}
		}

		jobs = append(jobs, &queue.ActiveJob{
			Job: job,
			ProviderMetadata: map[string]string{
				MetadataReceiptHandle: aws.ToString(msg.ReceiptHandle),
				MetadataQueueURL:      queueURL,
			},
		})
	}
	return jobs, nil
}

// Ack deletes the delivered message.
func (p *Provider) Ack(ctx context.Context, active *queue.ActiveJob, result []byte) error {
	receipt, queueURL, err := p.deliveryRefs(active)
	if err != nil {
		return err
	}
	opCtx, cancel := p.operationContext(ctx)
	defer cancel()
	if _, err := p.client.DeleteMessage(opCtx, &awssqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		return p.runtimeError("delete message failed", err).WithJob(active.Job.ID).WithQueue(active.Job.Queue)
	}
	return nil
}

// Nack settles a failed dispatch. With attempts remaining the message's
// visibility timeout is shortened so SQS redelivers it; exhausted jobs
// are deleted, which lets a redrive policy on the queue dead-letter them
// before this path ever runs.
func (p *Provider) Nack(ctx context.Context, active *queue.ActiveJob, cause error) error {
	receipt, queueURL, err := p.deliveryRefs(active)
	if err != nil {
		return err
	}

	opCtx, cancel := p.operationContext(ctx)
	defer cancel()

	if active.Job.Attempts+1 < active.Job.MaxAttempts {
		if _, err := p.client.ChangeMessageVisibility(opCtx, &awssqs.ChangeMessageVisibilityInput{
			QueueUrl:          aws.String(queueURL),
			ReceiptHandle:     aws.String(receipt),
			VisibilityTimeout: p.cfg.RetryDelaySeconds,
		}); err != nil {
			return p.runtimeError("schedule redelivery failed", err).WithJob(active.Job.ID).WithQueue(active.Job.Queue)
		}
		return nil
	}

	p.log.Warn("job exhausted retries, deleting message",
		"queue", active.Job.Queue, "job_id", active.Job.ID, "attempts", active.Job.Attempts+1)
	if _, err := p.client.DeleteMessage(opCtx, &awssqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		return p.runtimeError("delete exhausted message failed", err).WithJob(active.Job.ID).WithQueue(active.Job.Queue)
	}
	return nil
}

// Pause is not supported by SQS.
func (p *Provider) Pause(ctx context.Context, queueName string) error {
	return queue.NewConfigurationError(queue.CodeNotSupported, "sqs does not support pausing queues", nil).
		WithQueue(queueName)
}

// Resume is not supported by SQS.
func (p *Provider) Resume(ctx context.Context, queueName string) error {
	return queue.NewConfigurationError(queue.CodeNotSupported, "sqs does not support pausing queues", nil).
		WithQueue(queueName)
}

// Delete removes the SQS queue itself.
func (p *Provider) Delete(ctx context.Context, queueName string) error {
	queueURL, err := p.resolveQueueURL(ctx, queueName)
	if err != nil {
		return err
	}
	opCtx, cancel := p.operationContext(ctx)
	defer cancel()
	if _, err := p.client.DeleteQueue(opCtx, &awssqs.DeleteQueueInput{QueueUrl: aws.String(queueURL)}); err != nil {
		return p.runtimeError("delete queue failed", err).WithQueue(queueName)
	}
	p.mu.Lock()
	delete(p.queueURLs, queueName)
	p.mu.Unlock()
	return nil
}

// Stats maps SQS approximate depth attributes onto queue counters.
// Completed and failed totals are not tracked by SQS and read zero.
func (p *Provider) Stats(ctx context.Context, queueName string) (queue.Stats, error) {
	queueURL, err := p.resolveQueueURL(ctx, queueName)
	if err != nil {
		return queue.Stats{}, err
	}

	opCtx, cancel := p.operationContext(ctx)
	defer cancel()
	out, err := p.client.GetQueueAttributes(opCtx, &awssqs.GetQueueAttributesInput{
		QueueUrl: aws.String(queueURL),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
			types.QueueAttributeNameApproximateNumberOfMessagesDelayed,
			types.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
		},
	})
	if err != nil {
		return queue.Stats{}, p.runtimeError("read queue attributes failed", err).WithQueue(queueName)
	}

	return queue.Stats{
		Queue:   queueName,
		Waiting: attrInt64(out.Attributes, types.QueueAttributeNameApproximateNumberOfMessages),
		Delayed: attrInt64(out.Attributes, types.QueueAttributeNameApproximateNumberOfMessagesDelayed),
		Active:  attrInt64(out.Attributes, types.QueueAttributeNameApproximateNumberOfMessagesNotVisible),
	}, nil
}

// Health verifies API reachability and reports round-trip latency.
func (p *Provider) Health(ctx context.Context) (queue.Health, error) {
	p.mu.RLock()
	connected := p.connected
	p.mu.RUnlock()
	if !connected {
		return queue.Health{Connected: false, Error: "not connected"}, nil
	}

	opCtx, cancel := p.operationContext(ctx)
	defer cancel()
	start := time.Now()
	if _, err := p.client.ListQueues(opCtx, &awssqs.ListQueuesInput{MaxResults: aws.Int32(1)}); err != nil {
		return queue.Health{Connected: false, Error: err.Error()}, nil
	}
	return queue.Health{Connected: true, Latency: time.Since(start)}, nil
}

func (p *Provider) ensureConnected() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.connected {
		return queue.NewRuntimeError(queue.CodeNotConnected, "sqs provider is not connected", false, nil)
	}
	return nil
}

func (p *Provider) resolveQueueURL(ctx context.Context, queueName string) (string, error) {
	if err := p.ensureConnected(); err != nil {
		return "", err
	}

	p.mu.RLock()
	url, ok := p.queueURLs[queueName]
	p.mu.RUnlock()
	if ok {
		return url, nil
	}

	opCtx, cancel := p.operationContext(ctx)
	defer cancel()
	out, err := p.client.GetQueueUrl(opCtx, &awssqs.GetQueueUrlInput{QueueName: aws.String(queueName)})
	if err != nil {
		var notFound *types.QueueDoesNotExist
		if errors.As(err, &notFound) {
			return "", queue.NewNotFoundError(queue.CodeQueueNotFound, "sqs queue does not exist").WithQueue(queueName)
		}
		return "", p.runtimeError("resolve queue url failed", err).WithQueue(queueName)
	}

	url = aws.ToString(out.QueueUrl)
	p.mu.Lock()
	p.queueURLs[queueName] = url
	p.mu.Unlock()
	return url, nil
}

func (p *Provider) deliveryRefs(active *queue.ActiveJob) (receipt, queueURL string, err error) {
	if active == nil || active.Job == nil {
		return "", "", queue.NewDataError(queue.CodeInvalidJob, "active job is required", nil)
	}
	if err := p.ensureConnected(); err != nil {
		return "", "", err
	}
	receipt = strings.TrimSpace(active.ProviderMetadata[MetadataReceiptHandle])
	queueURL = strings.TrimSpace(active.ProviderMetadata[MetadataQueueURL])
	if receipt == "" || queueURL == "" {
		return "", "", queue.NewDataError(queue.CodeUnknownLease, "delivery metadata is missing", nil).
			WithJob(active.Job.ID).WithQueue(active.Job.Queue)
	}
	return receipt, queueURL, nil
}

func (p *Provider) deleteMessage(ctx context.Context, queueURL string, receipt *string) {
	if receipt == nil {
		return
	}
	opCtx, cancel := p.operationContext(ctx)
	defer cancel()
	_, _ = p.client.DeleteMessage(opCtx, &awssqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: receipt,
	})
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

func attrInt64(attrs map[string]string, name types.QueueAttributeName) int64 {
	value, err := strconv.ParseInt(attrs[string(name)], 10, 64)
	if err != nil {
		return 0
	}
	return value
}
