package health

import (
	"context"
	"time"
)

// defaultCheckTimeout bounds an adapter check whose caller passed no
// timeout of its own.
const defaultCheckTimeout = 5 * time.Second

// Checkable is the minimal surface a component needs for health probing.
// Queue providers expose it through their connection state.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// AdapterChecker probes any Checkable under a per-check timeout and maps
// the error to a CheckResult.
type AdapterChecker struct {
	name    string
	target  Checkable
	timeout time.Duration
}

// NewAdapterChecker wraps target as a named checker. A zero timeout uses
// the default.
func NewAdapterChecker(name string, target Checkable, timeout time.Duration) *AdapterChecker {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	return &AdapterChecker{name: name, target: target, timeout: timeout}
}

func (c *AdapterChecker) Name() string { return c.name }

// Check probes the target. The timeout applies per invocation, on top of
// whatever deadline ctx already carries.
func (c *AdapterChecker) Check(ctx context.Context) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := c.target.HealthCheck(checkCtx)
	duration := time.Since(start)

	result := CheckResult{
		Name:      c.name,
		Timestamp: time.Now(),
		Duration:  duration,
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		return result
	}
	result.Status = StatusHealthy
	result.Message = "OK"
	return result
}

// PingChecker always reports healthy. It backs liveness endpoints where
// "the process responds" is the whole question.
type PingChecker struct {
	name string
}

func NewPingChecker(name string) *PingChecker {
	return &PingChecker{name: name}
}

func (c *PingChecker) Name() string { return c.name }

func (c *PingChecker) Check(context.Context) CheckResult {
	return CheckResult{
		Name:      c.name,
		Status:    StatusHealthy,
		Message:   "Service is alive",
		Timestamp: time.Now(),
	}
}

// CustomChecker runs an arbitrary probe returning (status, message, error).
// Use it for domain conditions like queue depth thresholds.
type CustomChecker struct {
	name  string
	probe func(ctx context.Context) (Status, string, error)
}

func NewCustomChecker(name string, probe func(ctx context.Context) (Status, string, error)) *CustomChecker {
	return &CustomChecker{name: name, probe: probe}
}

func (c *CustomChecker) Name() string { return c.name }

func (c *CustomChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	status, message, err := c.probe(ctx)

	result := CheckResult{
		Name:      c.name,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}
