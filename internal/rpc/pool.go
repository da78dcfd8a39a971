// Package rpc provides failover access to a prioritized set of JSON-RPC
// node endpoints. Every call walks the endpoints in health order and each
// outcome feeds back into the endpoint's health score, so flaky providers
// drift to the back of the line without ever being removed.
package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/hexlane/dexarb/internal/config"
	"github.com/hexlane/dexarb/internal/domain"
)

const (
	// Health scoring: multiplicative decay on failure, additive recovery on
	// success, clamped to [healthFloor, 1]. The floor keeps demoted
	// endpoints eligible so a recovered provider works its way back.
	healthDecayFactor = 0.5
	healthRecoverStep = 0.1
	healthFloor       = 0.05

	// retryBudget bounds how many endpoints one call may burn through.
	retryBudget = 3
)

// Caller is the transport behind one endpoint. *gethrpc.Client satisfies it;
// tests inject fakes.
type Caller interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
	BatchCallContext(ctx context.Context, b []gethrpc.BatchElem) error
	Close()
}

// BatchElem aliases the go-ethereum batch element so callers do not import
// the geth rpc package directly.
type BatchElem = gethrpc.BatchElem

// DialFunc opens a transport to one endpoint URL. Overridable in tests.
type DialFunc func(ctx context.Context, url string) (Caller, error)

type endpoint struct {
	domain.Endpoint
	client Caller
}

// Pool is the failover client over all configured endpoints. Safe for
// concurrent use; health state is guarded by one mutex.
type Pool struct {
	mu        sync.Mutex
	endpoints []*endpoint
	dial      DialFunc
	timeout   time.Duration
	logger    *slog.Logger
}

// NewPool builds a Pool from configured endpoints. Connections are dialed
// lazily on first use. Each per-endpoint attempt (dial plus call) runs
// under timeout so one hung provider cannot stall the caller; zero
// disables the deadline.
func NewPool(cfgs []config.EndpointConfig, timeout time.Duration, logger *slog.Logger) *Pool {
	p := &Pool{
		dial: func(ctx context.Context, url string) (Caller, error) {
			return gethrpc.DialContext(ctx, url)
		},
		timeout: timeout,
		logger:  logger.With(slog.String("component", "rpc_pool")),
	}
	for _, c := range cfgs {
		p.endpoints = append(p.endpoints, &endpoint{
			Endpoint: domain.Endpoint{
				URL:         c.URL,
				Priority:    c.Priority,
				HealthScore: 1.0,
			},
		})
	}
	return p
}

// SetDialFunc replaces the transport factory. Call before first use.
func (p *Pool) SetDialFunc(dial DialFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dial = dial
}

// Call performs one JSON-RPC request with failover. It tries up to
// retryBudget endpoints in (health desc, priority asc) order and returns
// domain.ErrEndpointExhausted once the budget is spent.
func (p *Pool) Call(ctx context.Context, result any, method string, args ...any) error {
	return p.withFailover(ctx, method, func(ctx context.Context, c Caller) error {
		return c.CallContext(ctx, result, method, args...)
	})
}

// BatchCall performs one coalesced JSON-RPC batch with failover. Transport
// failures rotate endpoints; per-element errors are left in the batch for
// the caller, which tolerates individual pool failures.
func (p *Pool) BatchCall(ctx context.Context, batch []BatchElem) error {
	return p.withFailover(ctx, "batch", func(ctx context.Context, c Caller) error {
		return c.BatchCallContext(ctx, batch)
	})
}

func (p *Pool) withFailover(ctx context.Context, method string, do func(context.Context, Caller) error) error {
	candidates := p.ranked()
	if len(candidates) == 0 {
		return fmt.Errorf("rpc: no endpoints configured: %w", domain.ErrEndpointExhausted)
	}

	budget := retryBudget
	if budget > len(candidates) {
		budget = len(candidates)
	}

	var lastErr error
	for _, ep := range candidates[:budget] {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if p.timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.timeout)
		}

		client, err := p.clientFor(attemptCtx, ep)
		if err != nil {
			cancel()
			p.markFailure(ep)
			lastErr = err
			p.logger.Warn("endpoint dial failed",
				slog.String("url", ep.URL),
				slog.String("error", err.Error()),
			)
			continue
		}

		err = do(attemptCtx, client)
		cancel()
		if err != nil {
			p.markFailure(ep)
			lastErr = err
			p.logger.Warn("endpoint call failed",
				slog.String("url", ep.URL),
				slog.String("method", method),
				slog.String("error", err.Error()),
			)
			continue
		}

		p.markSuccess(ep)
		return nil
	}

	return fmt.Errorf("rpc: %s failed on %d endpoints: %w (last: %v)",
		method, budget, domain.ErrEndpointExhausted, lastErr)
}

// ranked snapshots the endpoints sorted by (health desc, priority asc).
func (p *Pool) ranked() []*endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*endpoint, len(p.endpoints))
	copy(out, p.endpoints)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].HealthScore != out[j].HealthScore {
			return out[i].HealthScore > out[j].HealthScore
		}
		return out[i].Priority < out[j].Priority
	})
	return out
}

func (p *Pool) clientFor(ctx context.Context, ep *endpoint) (Caller, error) {
	p.mu.Lock()
	if ep.client != nil {
		c := ep.client
		p.mu.Unlock()
		return c, nil
	}
	dial := p.dial
	p.mu.Unlock()

	c, err := dial(ctx, ep.URL)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", ep.URL, err)
	}

	p.mu.Lock()
	if ep.client == nil {
		ep.client = c
	} else {
		// Lost the race with a concurrent dial.
		c.Close()
		c = ep.client
	}
	p.mu.Unlock()
	return c, nil
}

func (p *Pool) markFailure(ep *endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ep.ConsecutiveFailures++
	ep.HealthScore *= healthDecayFactor
	if ep.HealthScore < healthFloor {
		ep.HealthScore = healthFloor
	}
}

func (p *Pool) markSuccess(ep *endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ep.ConsecutiveFailures = 0
	ep.HealthScore += healthRecoverStep
	if ep.HealthScore > 1 {
		ep.HealthScore = 1
	}
}

// Snapshot returns a copy of every endpoint's current state for monitoring.
func (p *Pool) Snapshot() []domain.Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.Endpoint, len(p.endpoints))
	for i, ep := range p.endpoints {
		out[i] = ep.Endpoint
	}
	return out
}

// Close releases every dialed connection.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ep := range p.endpoints {
		if ep.client != nil {
			ep.client.Close()
			ep.client = nil
		}
	}
}
