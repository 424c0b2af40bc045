// Package health aggregates readiness checks for queue providers and the
// components around them, and feeds the worker's /healthz endpoint.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Status is the outcome of a single check or of the whole registry.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

var statusRank = map[Status]int{
	StatusHealthy:   0,
	StatusDegraded:  1,
	StatusUnhealthy: 2,
}

// worse returns the more severe of two statuses.
func worse(a, b Status) Status {
	if statusRank[b] > statusRank[a] {
		return b
	}
	return a
}

// CheckResult is the outcome of one checker run.
type CheckResult struct {
	Name      string                 `json:"name"`
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Checker is one named health probe.
type Checker interface {
	Check(ctx context.Context) CheckResult
	Name() string
}

// AggregatedResult is what Check returns: the worst individual status plus
// every per-check result. It serializes directly onto /healthz.
type AggregatedResult struct {
	Status    Status        `json:"status"`
	Checks    []CheckResult `json:"checks"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// IsHealthy reports whether every check passed.
func (r AggregatedResult) IsHealthy() bool {
	return r.Status == StatusHealthy
}

// Registry holds the set of checkers a process exposes.
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{checkers: make(map[string]Checker)}
}

// Register adds a checker, replacing any existing one with the same name.
func (r *Registry) Register(checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[checker.Name()] = checker
}

// RegisterFunc registers a plain function under the given name.
func (r *Registry) RegisterFunc(name string, check func(ctx context.Context) CheckResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = funcChecker{name: name, check: check}
}

// Unregister removes the named checker; unknown names are a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.checkers, name)
}

// List returns the registered checker names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.checkers))
	for name := range r.checkers {
		names = append(names, name)
	}
	return names
}

// Check runs every registered checker concurrently and aggregates the
// results. The overall status is the worst individual one.
func (r *Registry) Check(ctx context.Context) AggregatedResult {
	r.mu.RLock()
	checkers := make([]Checker, 0, len(r.checkers))
	for _, checker := range r.checkers {
		checkers = append(checkers, checker)
	}
	r.mu.RUnlock()

	start := time.Now()
	results := make([]CheckResult, len(checkers))

	var wg sync.WaitGroup
	wg.Add(len(checkers))
	for i, checker := range checkers {
		go func(i int, c Checker) {
			defer wg.Done()
			results[i] = c.Check(ctx)
		}(i, checker)
	}
	wg.Wait()

	overall := StatusHealthy
	for _, result := range results {
		overall = worse(overall, result.Status)
	}

	return AggregatedResult{
		Status:    overall,
		Checks:    results,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
}

// CheckOne runs a single checker by name.
func (r *Registry) CheckOne(ctx context.Context, name string) (CheckResult, error) {
	r.mu.RLock()
	checker, ok := r.checkers[name]
	r.mu.RUnlock()
	if !ok {
		return CheckResult{}, fmt.Errorf("health check not found: %s", name)
	}
	return checker.Check(ctx), nil
}

type funcChecker struct {
	name  string
	check func(ctx context.Context) CheckResult
}

func (f funcChecker) Check(ctx context.Context) CheckResult { return f.check(ctx) }
func (f funcChecker) Name() string                          { return f.name }
