package decision

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/hexlane/dexarb/internal/config"
	"github.com/hexlane/dexarb/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEvaluator() *Evaluator {
	cfg := config.Defaults()
	return NewEvaluator(cfg.Decision, cfg.Gas, testLogger())
}

// gwei helper for quote construction.
func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
}

func testQuote() GasQuote {
	return GasQuote{BaseFee: gwei(30), PriorityFee: gwei(30), NativeUSD: 0.5}
}

func makeOpp(inputUSD, outputUSD, tvlUSD, slippagePct float64, hops int) domain.Opportunity {
	legs := make([]domain.Leg, hops)
	for i := range legs {
		legs[i] = domain.Leg{
			Pool:        domain.PoolRecord{TVLUSD: tvlUSD},
			SlippagePct: slippagePct,
		}
	}
	kind := domain.OpportunityTwoHop
	if hops > 2 {
		kind = domain.OpportunityTriangular
	}
	return domain.Opportunity{
		ID:        "test-opp",
		Kind:      kind,
		Path:      []string{"USDC", "WETH", "USDC"},
		Legs:      legs,
		InputUSD:  inputUSD,
		OutputUSD: outputUSD,
	}
}

func newTestState() (*State, *time.Time) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st := NewState(NewBreaker(10))
	st.SetClock(func() time.Time { return now })
	return st, &now
}

func TestEvaluateApprovesProfitableOpportunity(t *testing.T) {
	e := testEvaluator()
	st, _ := newTestState()

	res := e.Evaluate(makeOpp(1000, 1050, 1_000_000, 0.5, 2), testQuote(), st)
	if res.Status != StatusApproved {
		t.Fatalf("status = %s, rejection = %+v", res.Status, res.Rejection)
	}
	if res.Stage != StatusValidated {
		t.Fatalf("stage = %s, want validated", res.Stage)
	}
	if res.Plan == nil {
		t.Fatal("approved result has no plan")
	}
	if res.Plan.Provider != domain.ProviderBalancer {
		t.Fatalf("provider = %s, want balancer", res.Plan.Provider)
	}
	if res.Plan.FlashloanFeeUSD != 0 {
		t.Fatalf("balancer flashloan fee = %f, want 0", res.Plan.FlashloanFeeUSD)
	}

	// Max fee is twice the base fee plus the priority tip.
	if res.Plan.MaxFeePerGas.Cmp(gwei(90)) != 0 {
		t.Fatalf("max fee = %s, want %s", res.Plan.MaxFeePerGas, gwei(90))
	}
	// 250k base + 2x75k per hop, padded by 7%.
	if res.Plan.GasLimit != 428_000 {
		t.Fatalf("gas limit = %d, want 428000", res.Plan.GasLimit)
	}

	// 428000 units at 90 gwei is 0.03852 native, at 0.50 USD per token.
	if math.Abs(res.GasCostUSD-0.01926) > 1e-9 {
		t.Fatalf("gas cost = %f, want 0.01926", res.GasCostUSD)
	}
	wantNet := 50 - res.GasCostUSD
	if math.Abs(res.Plan.Opportunity.NetProfitUSD-wantNet) > 1e-9 {
		t.Fatalf("net profit = %f, want %f", res.Plan.Opportunity.NetProfitUSD, wantNet)
	}
}

func TestEvaluateGateOrderFirstFailureWins(t *testing.T) {
	e := testEvaluator()
	st, _ := newTestState()

	// Thin pool and absurd slippage at once: the TVL gate is checked first.
	res := e.Evaluate(makeOpp(1000, 1050, 100, 50, 2), testQuote(), st)
	if res.Status != StatusRejected {
		t.Fatalf("status = %s, want rejected", res.Status)
	}
	if res.Rejection.Gate != GateMinTVL {
		t.Fatalf("gate = %s, want %s", res.Rejection.Gate, GateMinTVL)
	}
}

func TestEvaluateRejectionGates(t *testing.T) {
	tests := []struct {
		name string
		opp  domain.Opportunity
		gate string
	}{
		{"thin pool", makeOpp(1000, 1050, 4999, 0.5, 2), GateMinTVL},
		{"high slippage", makeOpp(1000, 1050, 1_000_000, 3.5, 2), GateMaxSlippage},
		{"unprofitable", makeOpp(1000, 1000.5, 1_000_000, 0.5, 2), GateMinProfit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := testEvaluator()
			st, _ := newTestState()
			res := e.Evaluate(tt.opp, testQuote(), st)
			if res.Status != StatusRejected {
				t.Fatalf("status = %s, want rejected", res.Status)
			}
			if res.Rejection.Gate != tt.gate {
				t.Fatalf("gate = %s, want %s", res.Rejection.Gate, tt.gate)
			}
			if res.Rejection.Reason == "" {
				t.Fatal("rejection has no reason")
			}
			if res.Stage != StatusGasPriced {
				t.Fatalf("stage = %s, want gas_priced", res.Stage)
			}
		})
	}
}

func TestEvaluateAaveFeeCountsAgainstProfit(t *testing.T) {
	e := testEvaluator()
	st, _ := newTestState()

	// Above the zero-fee liquidity ceiling the 5 bps provider fee applies:
	// 125.00 of fee on a 250,001 notional leaves under a dollar of profit.
	opp := makeOpp(250_001, 250_127, 10_000_000, 0.5, 2)
	res := e.Evaluate(opp, testQuote(), st)
	if res.Status != StatusRejected {
		t.Fatalf("status = %s, want rejected", res.Status)
	}
	if res.Rejection.Gate != GateMinProfit {
		t.Fatalf("gate = %s, want %s", res.Rejection.Gate, GateMinProfit)
	}

	// With more headroom the same notional clears the gate on Aave.
	opp.OutputUSD = 250_300
	res = e.Evaluate(opp, testQuote(), st)
	if res.Status != StatusApproved {
		t.Fatalf("status = %s, rejection = %+v", res.Status, res.Rejection)
	}
	if res.Plan.Provider != domain.ProviderAave {
		t.Fatalf("provider = %s, want aave", res.Plan.Provider)
	}
	wantFee := 250_001 * 0.0005
	if math.Abs(res.Plan.FlashloanFeeUSD-wantFee) > 1e-6 {
		t.Fatalf("flashloan fee = %f, want %f", res.Plan.FlashloanFeeUSD, wantFee)
	}
}

func TestEvaluateTradeRateLimit(t *testing.T) {
	e := testEvaluator()
	st, now := newTestState()

	for i := 0; i < 10; i++ {
		st.RecordExecution(0.02)
	}
	res := e.Evaluate(makeOpp(1000, 1050, 1_000_000, 0.5, 2), testQuote(), st)
	if res.Status != StatusRejected || res.Rejection.Gate != GateTradeRate {
		t.Fatalf("want trade_rate rejection, got %s / %+v", res.Status, res.Rejection)
	}

	// A minute later the window is empty again.
	*now = now.Add(61 * time.Second)
	res = e.Evaluate(makeOpp(1000, 1050, 1_000_000, 0.5, 2), testQuote(), st)
	if res.Status != StatusApproved {
		t.Fatalf("status after window = %s, rejection = %+v", res.Status, res.Rejection)
	}
}

func TestEvaluateGasBudget(t *testing.T) {
	e := testEvaluator()
	st, now := newTestState()

	st.RecordExecution(4.99)
	*now = now.Add(time.Second)
	res := e.Evaluate(makeOpp(1000, 1050, 1_000_000, 0.5, 2), testQuote(), st)
	if res.Status != StatusRejected || res.Rejection.Gate != GateGasBudget {
		t.Fatalf("want gas_budget rejection, got %s / %+v", res.Status, res.Rejection)
	}

	// The hourly window rolls off.
	*now = now.Add(time.Hour)
	res = e.Evaluate(makeOpp(1000, 1050, 1_000_000, 0.5, 2), testQuote(), st)
	if res.Status != StatusApproved {
		t.Fatalf("status after window = %s, rejection = %+v", res.Status, res.Rejection)
	}
}

func TestEvaluateCooldown(t *testing.T) {
	e := testEvaluator()
	st, now := newTestState()

	st.RecordExecution(0.02)
	*now = now.Add(50 * time.Millisecond)
	res := e.Evaluate(makeOpp(1000, 1050, 1_000_000, 0.5, 2), testQuote(), st)
	if res.Status != StatusRejected || res.Rejection.Gate != GateCooldown {
		t.Fatalf("want cooldown rejection, got %s / %+v", res.Status, res.Rejection)
	}

	*now = now.Add(100 * time.Millisecond)
	res = e.Evaluate(makeOpp(1000, 1050, 1_000_000, 0.5, 2), testQuote(), st)
	if res.Status != StatusApproved {
		t.Fatalf("status after cooldown = %s, rejection = %+v", res.Status, res.Rejection)
	}
}

func TestEvaluateCircuitBreaker(t *testing.T) {
	e := testEvaluator()
	st, _ := newTestState()

	for i := 0; i < 10; i++ {
		st.Breaker().RecordRevert()
	}
	res := e.Evaluate(makeOpp(1000, 1050, 1_000_000, 0.5, 2), testQuote(), st)
	if res.Status != StatusRejected || res.Rejection.Gate != GateCircuitBreaker {
		t.Fatalf("want circuit_breaker rejection, got %s / %+v", res.Status, res.Rejection)
	}
	if !errors.Is(res.Rejection, domain.ErrCircuitOpen) {
		t.Fatalf("rejection does not wrap ErrCircuitOpen: %v", res.Rejection)
	}

	st.Breaker().RecordSuccess()
	res = e.Evaluate(makeOpp(1000, 1050, 1_000_000, 0.5, 2), testQuote(), st)
	if res.Status != StatusApproved {
		t.Fatalf("status after reset = %s, rejection = %+v", res.Status, res.Rejection)
	}
}

func TestBreakerTripsExactlyAtThreshold(t *testing.T) {
	b := NewBreaker(3)
	if b.RecordRevert() {
		t.Fatal("tripped after one revert")
	}
	if b.RecordRevert() {
		t.Fatal("tripped after two reverts")
	}
	if !b.RecordRevert() {
		t.Fatal("did not trip at threshold")
	}
	if b.RecordRevert() {
		t.Fatal("reported a fresh trip while already open")
	}
	if !b.Tripped() {
		t.Fatal("breaker should be open")
	}
	if b.ConsecutiveFailures() != 4 {
		t.Fatalf("consecutive = %d, want 4", b.ConsecutiveFailures())
	}

	b.Reset()
	if b.Tripped() || b.ConsecutiveFailures() != 0 {
		t.Fatal("reset did not close the breaker")
	}
}

func TestStateRollingWindows(t *testing.T) {
	st, now := newTestState()

	st.RecordExecution(1.0)
	*now = now.Add(30 * time.Second)
	st.RecordExecution(2.0)

	if got := st.TradesInLastMinute(); got != 2 {
		t.Fatalf("trades = %d, want 2", got)
	}
	if got := st.GasSpentLastHourUSD(); got != 3.0 {
		t.Fatalf("gas spent = %f, want 3.0", got)
	}

	*now = now.Add(45 * time.Second)
	if got := st.TradesInLastMinute(); got != 1 {
		t.Fatalf("trades after partial rolloff = %d, want 1", got)
	}

	*now = now.Add(time.Hour)
	if got := st.GasSpentLastHourUSD(); got != 0 {
		t.Fatalf("gas spent after rolloff = %f, want 0", got)
	}
}
