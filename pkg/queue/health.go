package queue

import (
	"context"
	"strings"
	"time"

	"github.com/relayq/relayq/pkg/health"
)

const defaultProviderHealthCheckName = "queue-provider"

// providerCheckable adapts the Provider health surface to the generic
// Checkable contract used by the health registry.
type providerCheckable struct {
	provider Provider
}

func (c providerCheckable) HealthCheck(ctx context.Context) error {
	h, err := c.provider.Health(ctx)
	if err != nil {
		return err
	}
	if !h.Connected {
		return NewRuntimeError(CodeNotConnected, "provider reports disconnected: "+h.Error, true, nil)
	}
	return nil
}

// NewProviderHealthChecker wraps a provider for the health registry.
func NewProviderHealthChecker(name string, provider Provider, timeout time.Duration) health.Checker {
	checkName := strings.TrimSpace(name)
	if checkName == "" {
		checkName = defaultProviderHealthCheckName
	}
	return health.NewAdapterChecker(checkName, providerCheckable{provider: provider}, timeout)
}
