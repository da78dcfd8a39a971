package decision

import (
	"sync"
	"time"
)

// Breaker counts consecutive reverted executions and trips after the
// configured threshold. Only a successful execution or an explicit Reset
// closes it again.
type Breaker struct {
	mu          sync.Mutex
	threshold   int
	consecutive int
	tripped     bool
}

// NewBreaker creates a closed breaker with the given trip threshold.
func NewBreaker(threshold int) *Breaker {
	return &Breaker{threshold: threshold}
}

// RecordRevert registers one reverted execution and reports whether this
// call tripped the breaker.
func (b *Breaker) RecordRevert() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive++
	if !b.tripped && b.consecutive >= b.threshold {
		b.tripped = true
		return true
	}
	return false
}

// RecordSuccess resets the failure streak and closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive = 0
	b.tripped = false
}

// Reset closes the breaker by operator action.
func (b *Breaker) Reset() {
	b.RecordSuccess()
}

// Tripped reports whether the breaker is open.
func (b *Breaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped
}

// ConsecutiveFailures returns the current revert streak.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutive
}

type gasSpend struct {
	at  time.Time
	usd float64
}

// State is the mutable execution bookkeeping owned by the orchestrator and
// passed into every evaluation: rolling trade and gas-spend windows, the
// cooldown clock and the circuit breaker. It is never global; tests build
// synthetic instances.
type State struct {
	breaker *Breaker
	now     func() time.Time

	trades    []time.Time
	gasSpends []gasSpend
	lastExec  time.Time
}

// NewState creates empty bookkeeping around the given breaker.
func NewState(breaker *Breaker) *State {
	return &State{breaker: breaker, now: time.Now}
}

// SetClock replaces the time source for tests.
func (s *State) SetClock(now func() time.Time) {
	s.now = now
}

// Breaker exposes the circuit breaker.
func (s *State) Breaker() *Breaker {
	return s.breaker
}

// RecordExecution registers one submitted trade and its gas spend, starting
// the cooldown window.
func (s *State) RecordExecution(gasUSD float64) {
	now := s.now()
	s.trades = append(s.trades, now)
	s.gasSpends = append(s.gasSpends, gasSpend{at: now, usd: gasUSD})
	s.lastExec = now
	s.prune(now)
}

// TradesInLastMinute returns the rolling one-minute trade count.
func (s *State) TradesInLastMinute() int {
	now := s.now()
	s.prune(now)
	return len(s.trades)
}

// GasSpentLastHourUSD returns the rolling one-hour gas spend.
func (s *State) GasSpentLastHourUSD() float64 {
	now := s.now()
	s.prune(now)
	var total float64
	for _, g := range s.gasSpends {
		total += g.usd
	}
	return total
}

// SinceLastExecution returns the elapsed time since the last submitted
// trade, or a very large duration when none has happened.
func (s *State) SinceLastExecution() time.Duration {
	if s.lastExec.IsZero() {
		return time.Duration(1<<62 - 1)
	}
	return s.now().Sub(s.lastExec)
}

func (s *State) prune(now time.Time) {
	minuteAgo := now.Add(-time.Minute)
	kept := s.trades[:0]
	for _, t := range s.trades {
		if t.After(minuteAgo) {
			kept = append(kept, t)
		}
	}
	s.trades = kept

	hourAgo := now.Add(-time.Hour)
	keptGas := s.gasSpends[:0]
	for _, g := range s.gasSpends {
		if g.at.After(hourAgo) {
			keptGas = append(keptGas, g)
		}
	}
	s.gasSpends = keptGas
}
