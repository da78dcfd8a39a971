// Package notify delivers operator alerts for executed trades, circuit
// breaker trips and engine errors over Telegram and Discord. Events are
// filtered by type so operators subscribe only to what they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hexlane/dexarb/internal/config"
	"github.com/hexlane/dexarb/internal/domain"
)

// Event types an operator can subscribe to.
const (
	EventTradeExecuted  = "trade_executed"
	EventTradeReverted  = "trade_reverted"
	EventBreakerTripped = "breaker_tripped"
	EventError          = "error"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans events out to every configured sender. An empty event
// filter subscribes to everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// New builds a notifier from the channel credentials in cfg. Channels with
// no credentials are skipped; a notifier with zero senders is valid and
// drops everything.
func New(cfg config.NotifyConfig, logger *slog.Logger) *Notifier {
	var senders []Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return NewNotifier(senders, cfg.Events, logger)
}

// NewNotifier wires an explicit sender list, used directly by tests.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// TradeExecuted reports a confirmed on-chain execution.
func (n *Notifier) TradeExecuted(ctx context.Context, rec domain.AttemptRecord) {
	n.notify(ctx, EventTradeExecuted, "Trade executed",
		fmt.Sprintf("%s via %s\nnotional $%.2f, net profit $%.2f, gas $%.2f\ntx %s",
			rec.Path, rec.Provider, rec.NotionalUSD, rec.NetProfitUSD, rec.GasCostUSD, rec.TxHash))
}

// TradeReverted reports an on-chain revert.
func (n *Notifier) TradeReverted(ctx context.Context, rec domain.AttemptRecord) {
	n.notify(ctx, EventTradeReverted, "Trade reverted",
		fmt.Sprintf("%s via %s\nnotional $%.2f, gas burned $%.2f\ntx %s",
			rec.Path, rec.Provider, rec.NotionalUSD, rec.GasCostUSD, rec.TxHash))
}

// BreakerTripped reports the circuit breaker opening.
func (n *Notifier) BreakerTripped(ctx context.Context, consecutive int) {
	n.notify(ctx, EventBreakerTripped, "Circuit breaker tripped",
		fmt.Sprintf("%d consecutive reverts, execution halted until reset", consecutive))
}

// Error reports an engine-level failure worth waking someone for.
func (n *Notifier) Error(ctx context.Context, scope string, err error) {
	n.notify(ctx, EventError, "Engine error",
		fmt.Sprintf("%s: %v", scope, err))
}

func (n *Notifier) notify(ctx context.Context, event, title, message string) {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return
	}
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", event))
	}
}
