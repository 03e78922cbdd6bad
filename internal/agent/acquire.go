package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/quillchat/quill/internal/log"
)

// Acquirer obtains a ready agent instance, scanning a bounded port range on
// conflict. One Acquirer is shared by all orchestration runs; each Acquire
// call yields an instance owned exclusively by its caller.
type Acquirer struct {
	provider    Provider
	basePort    int
	maxAttempts int
	logger      log.Logger
}

// NewAcquirer creates an acquirer scanning maxAttempts ports starting at
// basePort.
func NewAcquirer(provider Provider, basePort, maxAttempts int, logger log.Logger) *Acquirer {
	return &Acquirer{
		provider:    provider,
		basePort:    basePort,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Acquire returns a ready instance. Port conflicts advance to the next
// offset; after maxAttempts conflicts it fails with ErrPortsExhausted. Any
// non-conflict spawn failure aborts the scan immediately.
//
// The returned instance must be released exactly once via Instance.Release,
// regardless of how the session using it terminates.
func (a *Acquirer) Acquire(ctx context.Context, cfg InstanceConfig) (*Instance, error) {
	for offset := 0; offset < a.maxAttempts; offset++ {
		port := a.basePort + offset

		inst, err := a.provider.CreateInstance(ctx, port, cfg)
		if err == nil {
			return inst, nil
		}
		if !errors.Is(err, ErrPortInUse) {
			return nil, fmt.Errorf("acquiring agent instance: %w", err)
		}

		a.logger.Debug("agent port in use, trying next", "port", port, "offset", offset)
	}

	return nil, fmt.Errorf("%w: scanned %d ports from %d",
		ErrPortsExhausted, a.maxAttempts, a.basePort)
}
