package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"

	"github.com/hexlane/dexarb/internal/domain"
)

const (
	headHandshakeTimeout = 15 * time.Second
	headReadWait         = 90 * time.Second
	headWriteWait        = 10 * time.Second

	// Reconnect backoff, doubled per attempt up to the cap.
	headReconnectDelay    = 2 * time.Second
	headMaxReconnectDelay = 60 * time.Second

	// A base fee older than this is treated as absent so fee estimation
	// falls back to eth_feeHistory.
	headStaleAfter = 30 * time.Second
)

// HeadFeed subscribes to newHeads over a websocket endpoint and tracks the
// latest block base fee. It is optional; when absent or stale the
// transaction builder estimates fees over HTTP instead.
type HeadFeed struct {
	url    string
	logger *slog.Logger

	mu        sync.RWMutex
	baseFee   *big.Int
	blockNum  uint64
	updatedAt time.Time
}

// NewHeadFeed creates a feed for the given ws:// or wss:// endpoint.
func NewHeadFeed(url string, logger *slog.Logger) *HeadFeed {
	return &HeadFeed{
		url:    url,
		logger: logger.With(slog.String("component", "head_feed")),
	}
}

// Run connects, subscribes and consumes head notifications until ctx is
// cancelled, reconnecting with exponential backoff on failure.
func (f *HeadFeed) Run(ctx context.Context) error {
	delay := headReconnectDelay
	for {
		if err := f.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.logger.Warn("head feed disconnected",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", delay),
			)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > headMaxReconnectDelay {
			delay = headMaxReconnectDelay
		}
	}
}

type headNotification struct {
	Params struct {
		Result struct {
			Number        hexutil.Uint64 `json:"number"`
			BaseFeePerGas *hexutil.Big   `json:"baseFeePerGas"`
		} `json:"result"`
	} `json:"params"`
}

func (f *HeadFeed) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: headHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("rpc: head feed connect: %w", err)
	}
	defer conn.Close()

	sub := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_subscribe",
		"params":  []any{"newHeads"},
	}
	conn.SetWriteDeadline(time.Now().Add(headWriteWait))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("rpc: head feed subscribe: %w", err)
	}

	// Close the connection when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(headReadWait))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("rpc: head feed read: %w", domain.ErrWSDisconnect)
		}

		var note headNotification
		if err := json.Unmarshal(msg, &note); err != nil {
			continue // subscription ack or unknown frame
		}
		if note.Params.Result.BaseFeePerGas == nil {
			continue
		}

		f.mu.Lock()
		f.baseFee = note.Params.Result.BaseFeePerGas.ToInt()
		f.blockNum = uint64(note.Params.Result.Number)
		f.updatedAt = time.Now()
		f.mu.Unlock()
	}
}

// BaseFee returns the latest base fee and its block number. ok is false when
// no head has arrived yet or the last one is stale.
func (f *HeadFeed) BaseFee() (fee *big.Int, block uint64, ok bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.baseFee == nil || time.Since(f.updatedAt) > headStaleAfter {
		return nil, 0, false
	}
	return new(big.Int).Set(f.baseFee), f.blockNum, true
}
