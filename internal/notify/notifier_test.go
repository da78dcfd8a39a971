package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/hexlane/dexarb/internal/domain"
)

type fakeSender struct {
	name     string
	err      error
	messages []string
}

func (f *fakeSender) Send(_ context.Context, title, message string) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, title+"\n"+message)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFiltersEvents(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{EventBreakerTripped}, testLogger())

	n.TradeExecuted(context.Background(), domain.AttemptRecord{Path: "USDC->WETH->USDC"})
	if len(s.messages) != 0 {
		t.Fatalf("filtered event delivered: %v", s.messages)
	}

	n.BreakerTripped(context.Background(), 10)
	if len(s.messages) != 1 {
		t.Fatalf("subscribed event not delivered, got %d messages", len(s.messages))
	}
	if !strings.Contains(s.messages[0], "10 consecutive reverts") {
		t.Fatalf("message = %q", s.messages[0])
	}
}

func TestNotifierEmptyFilterAllowsEverything(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, nil, testLogger())

	n.TradeExecuted(context.Background(), domain.AttemptRecord{
		Path:         "USDC->WETH->USDC",
		Provider:     domain.ProviderBalancer,
		NotionalUSD:  10_000,
		NetProfitUSD: 37.05,
		TxHash:       "0xbeef",
	})
	n.Error(context.Background(), "fetcher", errors.New("rpc exhausted"))

	if len(s.messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(s.messages))
	}
	if !strings.Contains(s.messages[0], "0xbeef") || !strings.Contains(s.messages[0], "37.05") {
		t.Fatalf("trade message = %q", s.messages[0])
	}
}

func TestNotifierContinuesPastFailingSender(t *testing.T) {
	broken := &fakeSender{name: "broken", err: errors.New("down")}
	healthy := &fakeSender{name: "healthy"}
	n := NewNotifier([]Sender{broken, healthy}, nil, testLogger())

	n.BreakerTripped(context.Background(), 3)
	if len(healthy.messages) != 1 {
		t.Fatal("healthy sender skipped after broken sender failed")
	}
}
