// Package redis implements a Redis-backed queue provider using lists for
// ready work, a sorted set for delayed work, and lease keys for in-flight
// dispatches. Retry and dead-letter routing happen here, not in the worker.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/relayq/relayq/pkg/observability/logger"
	"github.com/relayq/relayq/pkg/queue"
)

const (
	// MetadataLeaseToken keys the lease token inside provider metadata.
	MetadataLeaseToken = "redis_lease_token"

	defaultPrefix           = "relayq"
	defaultOperationTimeout = 5 * time.Second
	defaultLeaseTTL         = 30 * time.Second
	defaultRetryDelay       = time.Second
	defaultMaxRetryDelay    = 5 * time.Minute
	defaultTransferBatch    = 100
	defaultDLQSuffix        = ":dead"
	defaultPollInterval     = 50 * time.Millisecond
)

var (
	// reserveScript promotes due delayed jobs, checks the pause flag, then
	// pops up to the requested batch from the ready list, creating one
	// lease key per popped payload. Returns the popped payloads in order;
	// the caller pairs them with the tokens it supplied.
	reserveScript = goredis.NewScript(`
local delayed = KEYS[1]
local ready = KEYS[2]
local paused = KEYS[3]
local leasePrefix = ARGV[1]
local nowMs = tonumber(ARGV[2])
local transferBatch = tonumber(ARGV[3])
local leaseMs = tonumber(ARGV[4])
local batch = tonumber(ARGV[5])

local due = redis.call("ZRANGEBYSCORE", delayed, "-inf", nowMs, "LIMIT", 0, transferBatch)
for _, payload in ipairs(due) do
  redis.call("RPUSH", ready, payload)
  redis.call("ZREM", delayed, payload)
end

if redis.call("EXISTS", paused) == 1 then
  return {}
end

local out = {}
for idx = 1, batch do
  local payload = redis.call("LPOP", ready)
  if not payload then
    break
  end
  redis.call("SET", leasePrefix .. ARGV[5 + idx], payload, "PX", leaseMs)
  out[idx] = payload
end
return out
`)

	// settleScript deletes a lease only when it still holds the expected
	// payload. Returns 1 settled, 0 missing, -1 payload changed.
	settleScript = goredis.NewScript(`
local current = redis.call("GET", KEYS[1])
if not current then
  return 0
end
if current ~= ARGV[1] then
  return -1
end
redis.call("DEL", KEYS[1])
return 1
`)

	// requeueScript atomically moves a lease payload back onto the queue
	// as a delayed retry.
	requeueScript = goredis.NewScript(`
local current = redis.call("GET", KEYS[1])
if not current then
  return 0
end
if current ~= ARGV[1] then
  return -1
end
redis.call("DEL", KEYS[1])
redis.call("ZADD", KEYS[2], tonumber(ARGV[3]), ARGV[2])
return 1
`)
)

// Config configures the Redis provider.
type Config struct {
	URL              string
	Prefix           string
	OperationTimeout time.Duration
	LeaseTTL         time.Duration
	// RetryDelay is the base backoff applied to nacked jobs; the actual
	// delay doubles per attempt up to MaxRetryDelay.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	DLQSuffix     string
	TransferBatch int
}

func (c *Config) normalize() {
	if strings.TrimSpace(c.Prefix) == "" {
		c.Prefix = defaultPrefix
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultOperationTimeout
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = defaultLeaseTTL
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = defaultMaxRetryDelay
	}
	if strings.TrimSpace(c.DLQSuffix) == "" {
		c.DLQSuffix = defaultDLQSuffix
	}
	if c.TransferBatch <= 0 {
		c.TransferBatch = defaultTransferBatch
	}
}

type jobEnvelope struct {
	Job *queue.Job `json:"job"`
}

// DLQEntry is one dead-lettered job with the context of its failure.
type DLQEntry struct {
	ID            string     `json:"id"`
	OriginalQueue string     `json:"original_queue"`
	Job           *queue.Job `json:"job"`
	Reason        string     `json:"reason"`
	FailedAt      time.Time  `json:"failed_at"`
}

// Provider implements queue.Provider and queue.Fetcher on Redis.
type Provider struct {
	client *goredis.Client
	log    logger.Logger
	cfg    Config

	mu        sync.RWMutex
	connected bool
}

var (
	_ queue.Provider = (*Provider)(nil)
	_ queue.Fetcher  = (*Provider)(nil)
)

// New parses the Redis URL and builds the provider. Connectivity is
// verified by Connect.
func New(cfg Config, log logger.Logger) (*Provider, error) {
	if log == nil {
		return nil, queue.NewConfigurationError(queue.CodeInvalidConfig, "logger is required", nil)
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, queue.NewConfigurationError(queue.CodeInvalidConfig, "redis url is required", nil)
	}
	cfg.normalize()

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, queue.NewConfigurationError(queue.CodeInvalidConfig, "invalid redis url", err)
	}
	return &Provider{
		client: goredis.NewClient(opts),
		log:    log,
		cfg:    cfg,
	}, nil
}

func (p *Provider) Name() string { return "redis" }

func (p *Provider) Capabilities() queue.Capabilities {
	return queue.Capabilities{
		DelayedJobs: true,
		Batching:    true,
		Retries:     true,
		DLQ:         true,
	}
}

// Connect verifies Redis connectivity.
func (p *Provider) Connect(ctx context.Context) error {
	opCtx, cancel := p.operationContext(ctx)
	defer cancel()
	if err := p.client.Ping(opCtx).Err(); err != nil {
		return queue.NewRuntimeError(queue.CodeConnectionLost, "ping redis failed", true, err)
	}
	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	return nil
}

// Disconnect closes the client. Outstanding lease keys expire on their
// own TTL.
func (p *Provider) Disconnect(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil
	}
	p.connected = false
	return p.client.Close()
}

// Add stores a job on the ready list or, when scheduled, the delayed set.
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

	opCtx, cancel := p.operationContext(ctx)
	defer cancel()

	now := time.Now().UTC()
	if !stored.ScheduledFor.IsZero() && stored.ScheduledFor.After(now) {
		err = p.client.ZAdd(opCtx, p.delayedKey(stored.Queue), goredis.Z{
			Score:  float64(stored.ScheduledFor.UnixMilli()),
			Member: string(encoded),
		}).Err()
	} else {
		err = p.client.RPush(opCtx, p.readyKey(stored.Queue), string(encoded)).Err()
	}
	if err != nil {
		return nil, p.runtimeError("enqueue job failed", err).WithJob(stored.ID).WithQueue(stored.Queue)
	}
	return stored.Clone(), nil
}

// Fetch reserves up to batchSize jobs. Redis lists have no blocking
// variant of the reserve script, so a positive wait degrades to polling.
func (p *Provider) Fetch(ctx context.Context, queueName string, batchSize int, wait time.Duration) ([]*queue.ActiveJob, error) {
	if err := p.ensureConnected(); err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	deadline := time.Now().Add(wait)

	for {
		jobs, err := p.fetchOnce(ctx, queueName, batchSize)
		if err != nil {
			return nil, err
		}
		if len(jobs) > 0 || wait <= 0 || time.Now().After(deadline) {
			return jobs, nil
		}
		timer := time.NewTimer(defaultPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (p *Provider) fetchOnce(ctx context.Context, queueName string, batchSize int) ([]*queue.ActiveJob, error) {
	tokens := make([]string, batchSize)
	args := make([]interface{}, 0, 5+batchSize)
	args = append(args,
		p.leaseKeyPrefix(queueName),
		time.Now().UTC().UnixMilli(),
		p.cfg.TransferBatch,
		p.cfg.LeaseTTL.Milliseconds(),
		batchSize,
	)
	for idx := range tokens {
		tokens[idx] = queue.RandomToken()
		args = append(args, tokens[idx])
	}

	opCtx, cancel := p.operationContext(ctx)
	defer cancel()
	result, err := reserveScript.Run(
		opCtx,
		p.client,
		[]string{p.delayedKey(queueName), p.readyKey(queueName), p.pausedKey(queueName)},
		args...,
	).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, p.runtimeError("reserve jobs failed", err).WithQueue(queueName)
	}

	raw, _ := result.([]interface{})
	out := make([]*queue.ActiveJob, 0, len(raw))
	for idx, item := range raw {
		payload, ok := item.(string)
		if !ok || strings.TrimSpace(payload) == "" {
			continue
		}
		token := tokens[idx]

		var envelope jobEnvelope
		if err := json.Unmarshal([]byte(payload), &envelope); err != nil || envelope.Job == nil {
			p.log.Warn("discarding malformed queued payload", "queue", queueName, "error", err)
			p.dropLease(ctx, queueName, token)
			continue
		}
		job := envelope.Job
		if strings.TrimSpace(job.Queue) == "" {
			job.Queue = queueName
		}
		if err := job.Validate(); err != nil {
			p.log.Warn("discarding invalid queued job", "queue", queueName, "error", err)
			p.dropLease(ctx, queueName, token)
			continue
		}
		job.Status = queue.StatusActive
		job.ProcessedAt = time.Now().UTC()

		out = append(out, &queue.ActiveJob{
			Job:              job,
			ProviderMetadata: map[string]string{MetadataLeaseToken: token},
		})
	}
	return out, nil
}

// Ack deletes the lease key. A missing lease means the dispatch was
// already settled or the lease expired and the job went back to work.
func (p *Provider) Ack(ctx context.Context, active *queue.ActiveJob, result []byte) error {
	token, err := p.leaseToken(active)
	if err != nil {
		return err
	}

	opCtx, cancel := p.operationContext(ctx)
	defer cancel()
	deleted, err := p.client.Del(opCtx, p.leaseKey(active.Job.Queue, token)).Result()
	if err != nil {
		return p.runtimeError("ack failed", err).WithJob(active.Job.ID).WithQueue(active.Job.Queue)
	}
	if deleted == 0 {
		return queue.NewNotFoundError(queue.CodeUnknownLease, "lease not found or already settled").
			WithJob(active.Job.ID).WithQueue(active.Job.Queue)
	}
	return p.client.Incr(opCtx, p.counterKey(active.Job.Queue, "completed")).Err()
}

// Nack settles a failed dispatch. Jobs with attempts remaining go back
// to the delayed set with exponential backoff; exhausted jobs move to
// the dead-letter queue.
func (p *Provider) Nack(ctx context.Context, active *queue.ActiveJob, cause error) error {
	token, err := p.leaseToken(active)
	if err != nil {
		return err
	}

	expected, job, err := p.readLease(ctx, active.Job.Queue, token)
	if err != nil {
		return err
	}

	job.Attempts++
	if cause != nil {
		job.Error = cause.Error()
	}

	if job.Attempts < job.MaxAttempts {
		return p.requeueRetry(ctx, token, expected, job)
	}
	return p.moveToDLQ(ctx, token, expected, job, cause)
}

func (p *Provider) requeueRetry(ctx context.Context, token, expected string, job *queue.Job) error {
	delay := retryBackoff(p.cfg, job.Attempts)

	job.Status = queue.StatusDelayed
	job.ScheduledFor = time.Now().UTC().Add(delay)
	encoded, err := json.Marshal(jobEnvelope{Job: job})
	if err != nil {
		return queue.NewDataError(queue.CodeInvalidJob, "marshal retry job failed", err).
			WithJob(job.ID).WithQueue(job.Queue)
	}

	opCtx, cancel := p.operationContext(ctx)
	defer cancel()
	result, err := requeueScript.Run(
		opCtx,
		p.client,
		[]string{p.leaseKey(job.Queue, token), p.delayedKey(job.Queue)},
		expected,
		string(encoded),
		job.ScheduledFor.UnixMilli(),
	).Int()
	if err != nil {
		return p.runtimeError("requeue retry failed", err).WithJob(job.ID).WithQueue(job.Queue)
	}
	return p.settleResultError(result, job)
}

func (p *Provider) moveToDLQ(ctx context.Context, token, expected string, job *queue.Job, cause error) error {
	job.Status = queue.StatusFailed
	job.FailedAt = time.Now().UTC()

	opCtx, cancel := p.operationContext(ctx)
	defer cancel()
	result, err := settleScript.Run(opCtx, p.client, []string{p.leaseKey(job.Queue, token)}, expected).Int()
	if err != nil {
		return p.runtimeError("settle failed dispatch", err).WithJob(job.ID).WithQueue(job.Queue)
	}
	if err := p.settleResultError(result, job); err != nil {
		return err
	}

	entry := DLQEntry{
		ID:            queue.RandomToken(),
		OriginalQueue: job.Queue,
		Job:           job.Clone(),
		Reason:        job.Error,
		FailedAt:      job.FailedAt,
	}
	encoded, err := json.Marshal(entry)
	if err != nil {
		return queue.NewDataError(queue.CodeInvalidJob, "marshal dlq entry failed", err).
			WithJob(job.ID).WithQueue(job.Queue)
	}

	_, err = p.client.TxPipelined(opCtx, func(pipe goredis.Pipeliner) error {
		pipe.Set(opCtx, p.dlqEntryKey(job.Queue, entry.ID), string(encoded), 0)
		pipe.ZAdd(opCtx, p.dlqIndexKey(job.Queue), goredis.Z{
			Score:  float64(entry.FailedAt.UnixMilli()),
			Member: entry.ID,
		})
		pipe.Incr(opCtx, p.counterKey(job.Queue, "failed"))
		return nil
	})
	if err != nil {
		return p.runtimeError("store dlq entry failed", err).WithJob(job.ID).WithQueue(job.Queue)
	}
	return nil
}

// retryBackoff doubles the base delay per burnt attempt, capped at
// MaxRetryDelay.
func retryBackoff(cfg Config, attempts int) time.Duration {
	delay := cfg.RetryDelay
	for attempt := 1; attempt < attempts && delay < cfg.MaxRetryDelay; attempt++ {
		delay *= 2
	}
	if delay > cfg.MaxRetryDelay {
		delay = cfg.MaxRetryDelay
	}
	return delay
}

func (p *Provider) settleResultError(result int, job *queue.Job) error {
	switch result {
	case 1:
		return nil
	case 0:
		return queue.NewNotFoundError(queue.CodeUnknownLease, "lease not found or already settled").
			WithJob(job.ID).WithQueue(job.Queue)
	case -1:
		return queue.NewRuntimeError(queue.CodeBackendFailure, "lease payload changed while settling", true, nil).
			WithJob(job.ID).WithQueue(job.Queue)
	default:
		return queue.NewRuntimeError(queue.CodeBackendFailure,
			fmt.Sprintf("invalid settle result: %d", result), true, nil).
			WithJob(job.ID).WithQueue(job.Queue)
	}
}

// ListDLQ returns the newest dead-letter entries for one queue.
func (p *Provider) ListDLQ(ctx context.Context, queueName string, limit int) ([]*DLQEntry, error) {
	if err := p.ensureConnected(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	opCtx, cancel := p.operationContext(ctx)
	defer cancel()
	ids, err := p.client.ZRevRange(opCtx, p.dlqIndexKey(queueName), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, p.runtimeError("list dlq failed", err).WithQueue(queueName)
	}

	entries := make([]*DLQEntry, 0, len(ids))
	for _, id := range ids {
		raw, getErr := p.client.Get(opCtx, p.dlqEntryKey(queueName, id)).Result()
		if getErr != nil {
			if errors.Is(getErr, goredis.Nil) {
				continue
			}
			return nil, p.runtimeError("read dlq entry failed", getErr).WithQueue(queueName)
		}
		var entry DLQEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// ReplayDLQ re-enqueues selected dead-letter entries onto their original
// queue with attempts reset. Returns how many were replayed.
func (p *Provider) ReplayDLQ(ctx context.Context, queueName string, ids []string) (int, error) {
	if err := p.ensureConnected(); err != nil {
		return 0, err
	}

	replayed := 0
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}

		opCtx, cancel := p.operationContext(ctx)
		raw, err := p.client.Get(opCtx, p.dlqEntryKey(queueName, id)).Result()
		cancel()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				continue
			}
			return replayed, p.runtimeError("read dlq entry failed", err).WithQueue(queueName)
		}

		var entry DLQEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil || entry.Job == nil {
			continue
		}
		job := entry.Job.Clone()
		job.Queue = entry.OriginalQueue
		job.Status = queue.StatusWaiting
		job.Attempts = 0
		job.Error = ""
		job.ScheduledFor = time.Time{}
		job.FailedAt = time.Time{}

		if _, err := p.Add(ctx, job); err != nil {
			return replayed, err
		}

		opCtx, cancel = p.operationContext(ctx)
		_, err = p.client.TxPipelined(opCtx, func(pipe goredis.Pipeliner) error {
			pipe.ZRem(opCtx, p.dlqIndexKey(queueName), id)
			pipe.Del(opCtx, p.dlqEntryKey(queueName, id))
			return nil
		})
		cancel()
		if err != nil {
			return replayed, p.runtimeError("remove dlq entry failed", err).WithQueue(queueName)
		}
		replayed++
	}
	return replayed, nil
}

// Pause sets a flag the reserve script checks before popping work.
func (p *Provider) Pause(ctx context.Context, queueName string) error {
	if err := p.ensureConnected(); err != nil {
		return err
	}
	opCtx, cancel := p.operationContext(ctx)
	defer cancel()
	if err := p.client.Set(opCtx, p.pausedKey(queueName), "1", 0).Err(); err != nil {
		return p.runtimeError("pause queue failed", err).WithQueue(queueName)
	}
	return nil
}

func (p *Provider) Resume(ctx context.Context, queueName string) error {
	if err := p.ensureConnected(); err != nil {
		return err
	}
	opCtx, cancel := p.operationContext(ctx)
	defer cancel()
	if err := p.client.Del(opCtx, p.pausedKey(queueName)).Err(); err != nil {
		return p.runtimeError("resume queue failed", err).WithQueue(queueName)
	}
	return nil
}

// Delete drops the queue's ready, delayed, pause, and counter keys.
// Dead-letter entries are kept for inspection.
func (p *Provider) Delete(ctx context.Context, queueName string) error {
	if err := p.ensureConnected(); err != nil {
		return err
	}
	opCtx, cancel := p.operationContext(ctx)
	defer cancel()
	err := p.client.Del(opCtx,
		p.readyKey(queueName),
		p.delayedKey(queueName),
		p.pausedKey(queueName),
		p.counterKey(queueName, "completed"),
		p.counterKey(queueName, "failed"),
	).Err()
	if err != nil {
		return p.runtimeError("delete queue failed", err).WithQueue(queueName)
	}
	return nil
}

// Stats reads queue depths and settlement counters. Active is counted by
// scanning lease keys, which is approximate under churn.
func (p *Provider) Stats(ctx context.Context, queueName string) (queue.Stats, error) {
	if err := p.ensureConnected(); err != nil {
		return queue.Stats{}, err
	}
	opCtx, cancel := p.operationContext(ctx)
	defer cancel()

	waiting, err := p.client.LLen(opCtx, p.readyKey(queueName)).Result()
	if err != nil {
		return queue.Stats{}, p.runtimeError("read queue depth failed", err).WithQueue(queueName)
	}
	delayed, err := p.client.ZCard(opCtx, p.delayedKey(queueName)).Result()
	if err != nil {
		return queue.Stats{}, p.runtimeError("read delayed depth failed", err).WithQueue(queueName)
	}

	var active int64
	iter := p.client.Scan(opCtx, 0, p.leaseKeyPrefix(queueName)+"*", 1000).Iterator()
	for iter.Next(opCtx) {
		active++
	}
	if err := iter.Err(); err != nil {
		return queue.Stats{}, p.runtimeError("scan leases failed", err).WithQueue(queueName)
	}

	completed, _ := p.client.Get(opCtx, p.counterKey(queueName, "completed")).Int64()
	failed, _ := p.client.Get(opCtx, p.counterKey(queueName, "failed")).Int64()

	return queue.Stats{
		Queue:     queueName,
		Waiting:   waiting,
		Delayed:   delayed,
		Active:    active,
		Completed: completed,
		Failed:    failed,
	}, nil
}

// Health pings Redis and reports round-trip latency.
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
	if err := p.client.Ping(opCtx).Err(); err != nil {
		return queue.Health{Connected: false, Error: err.Error()}, nil
	}
	return queue.Health{Connected: true, Latency: time.Since(start)}, nil
}

func (p *Provider) ensureConnected() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.connected {
		return queue.NewRuntimeError(queue.CodeNotConnected, "redis provider is not connected", false, nil)
	}
	return nil
}

func (p *Provider) leaseToken(active *queue.ActiveJob) (string, error) {
	if active == nil || active.Job == nil {
		return "", queue.NewDataError(queue.CodeInvalidJob, "active job is required", nil)
	}
	if err := p.ensureConnected(); err != nil {
		return "", err
	}
	token := strings.TrimSpace(active.ProviderMetadata[MetadataLeaseToken])
	if token == "" {
		return "", queue.NewDataError(queue.CodeUnknownLease, "lease token is missing", nil).
			WithJob(active.Job.ID).WithQueue(active.Job.Queue)
	}
	return token, nil
}

func (p *Provider) readLease(ctx context.Context, queueName, token string) (string, *queue.Job, error) {
	opCtx, cancel := p.operationContext(ctx)
	defer cancel()

	raw, err := p.client.Get(opCtx, p.leaseKey(queueName, token)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", nil, queue.NewNotFoundError(queue.CodeUnknownLease, "lease not found or already settled").
				WithQueue(queueName)
		}
		return "", nil, p.runtimeError("read lease failed", err).WithQueue(queueName)
	}

	var envelope jobEnvelope
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil || envelope.Job == nil {
		return "", nil, queue.NewDataError(queue.CodeInvalidJob, "decode lease payload failed", err).
			WithQueue(queueName)
	}
	if strings.TrimSpace(envelope.Job.Queue) == "" {
		envelope.Job.Queue = queueName
	}
	return raw, envelope.Job, nil
}

func (p *Provider) dropLease(ctx context.Context, queueName, token string) {
	opCtx, cancel := p.operationContext(ctx)
	defer cancel()
	_ = p.client.Del(opCtx, p.leaseKey(queueName, token)).Err()
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

func (p *Provider) readyKey(queueName string) string {
	return p.prefix() + ":queue:" + strings.TrimSpace(queueName) + ":ready"
}

func (p *Provider) delayedKey(queueName string) string {
	return p.prefix() + ":queue:" + strings.TrimSpace(queueName) + ":delayed"
}

func (p *Provider) pausedKey(queueName string) string {
	return p.prefix() + ":queue:" + strings.TrimSpace(queueName) + ":paused"
}

func (p *Provider) counterKey(queueName, name string) string {
	return p.prefix() + ":queue:" + strings.TrimSpace(queueName) + ":" + name
}

func (p *Provider) leaseKey(queueName, token string) string {
	return p.leaseKeyPrefix(queueName) + strings.TrimSpace(token)
}

func (p *Provider) leaseKeyPrefix(queueName string) string {
	return p.prefix() + ":lease:" + strings.TrimSpace(queueName) + ":"
}

func (p *Provider) dlqIndexKey(queueName string) string {
	return p.dlqBase(queueName) + ":index"
}

func (p *Provider) dlqEntryKey(queueName, id string) string {
	return p.dlqBase(queueName) + ":entry:" + strings.TrimSpace(id)
}

func (p *Provider) dlqBase(queueName string) string {
	return p.prefix() + ":queue:" + strings.TrimSpace(queueName) + p.cfg.DLQSuffix
}

func (p *Provider) prefix() string {
	return strings.TrimRight(strings.TrimSpace(p.cfg.Prefix), ":")
}
