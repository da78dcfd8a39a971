package domain

import (
	"errors"
	"fmt"
)

var (
	ErrEndpointExhausted = errors.New("all endpoints exhausted")
	ErrCacheMiss         = errors.New("cache miss")

	// ErrStalePool marks an entry that is still present but has aged past
	// its namespace TTL. It wraps ErrCacheMiss so readers that only care
	// about usability treat both the same.
	ErrStalePool = fmt.Errorf("pool record stale: %w", ErrCacheMiss)

	ErrQuoteUnavailable = errors.New("quote unavailable")
	ErrExecutionReverted = errors.New("execution reverted")
	ErrCircuitOpen       = errors.New("circuit breaker open")
	ErrWSDisconnect      = errors.New("websocket disconnected")
)
