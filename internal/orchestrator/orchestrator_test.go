package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/hexlane/dexarb/internal/config"
	"github.com/hexlane/dexarb/internal/decision"
	"github.com/hexlane/dexarb/internal/domain"
	"github.com/hexlane/dexarb/internal/graph"
	"github.com/hexlane/dexarb/internal/pricing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func usdcRaw(usd int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(usd), big.NewInt(1_000_000))
}

func e18(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), pricing.WholeToken(18))
}

var poolSeq byte

func v2Pool(dex, t0, t1 string, d0, d1 uint8, r0, r1 *big.Int, p0, p1 float64) domain.PoolRecord {
	poolSeq++
	var addr common.Address
	addr[19] = poolSeq
	rec := domain.PoolRecord{
		DexID:     dex,
		Kind:      domain.AMMKindV2,
		Token0:    t0,
		Token1:    t1,
		Decimals0: d0,
		Decimals1: d1,
		FeeBps:    30,
		Reserve0:  r0,
		Reserve1:  r1,
		Price0USD: p0,
		Price1USD: p1,
		FetchedAt: time.Now(),
	}
	rec.PoolAddress = addr
	rec.TVLUSD = pricing.USDFromRaw(r0, p0, d0) + pricing.USDFromRaw(r1, p1, d1)
	return rec
}

// Two pools quoting WETH at different prices, the cross-dex spread from the
// search tests.
func spreadRecords() []domain.PoolRecord {
	return []domain.PoolRecord{
		v2Pool("quickswap", "USDC", "WETH", 6, 18, usdcRaw(1_000_000), e18(500), 1, 2000),
		v2Pool("sushiswap", "USDC", "WETH", 6, 18, usdcRaw(500_000), e18(260), 1, 1923),
	}
}

type fakePools struct {
	records    []domain.PoolRecord
	fetchCalls int
	cacheCalls int
}

func (f *fakePools) FetchAll(context.Context) ([]domain.PoolRecord, error) {
	f.fetchCalls++
	return f.records, nil
}

func (f *fakePools) CachedRecords(context.Context) ([]domain.PoolRecord, error) {
	f.cacheCalls++
	return f.records, nil
}

type fakeCache struct {
	pairCount int
}

func (f *fakeCache) Get(context.Context, string, string) ([]byte, error) {
	return nil, domain.ErrCacheMiss
}
func (f *fakeCache) Put(context.Context, string, string, []byte) error { return nil }

func (f *fakeCache) Keys(context.Context, string) ([]string, error) { return nil, nil }
func (f *fakeCache) Status(context.Context) ([]domain.CacheStatus, error) {
	return []domain.CacheStatus{
		{Namespace: domain.NamespacePairPrice, Count: f.pairCount, Freshness: 1},
	}, nil
}

type fakePricer struct{}

func (fakePricer) Quote(context.Context) (*big.Int, *big.Int, error) {
	tenth := big.NewInt(100_000_000) // 0.1 gwei
	return new(big.Int).Set(tenth), new(big.Int).Set(tenth), nil
}

type fakeExecutor struct {
	buildCalls  int
	submitCalls int
	waitErr     error
}

func (f *fakeExecutor) Build(_ context.Context, plan *domain.ExecutionPlan) (*types.Transaction, error) {
	f.buildCalls++
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(137),
		GasFeeCap: plan.MaxFeePerGas,
		GasTipCap: plan.MaxPriorityFeePerGas,
		Gas:       plan.GasLimit,
	}), nil
}

func (f *fakeExecutor) Submit(context.Context, *types.Transaction) (common.Hash, error) {
	f.submitCalls++
	return common.HexToHash("0xbeef"), nil
}

func (f *fakeExecutor) WaitReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	if f.waitErr != nil {
		return nil, f.waitErr
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

type fakeStore struct {
	records []domain.AttemptRecord
}

func (f *fakeStore) Insert(_ context.Context, rec domain.AttemptRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeStore) byOutcome(outcome domain.AttemptOutcome) int {
	var n int
	for _, r := range f.records {
		if r.Outcome == outcome {
			n++
		}
	}
	return n
}

type fakeAlerter struct {
	executed     int
	reverted     int
	breakerTrips int
	errors       int
}

func (f *fakeAlerter) TradeExecuted(context.Context, domain.AttemptRecord) { f.executed++ }

func (f *fakeAlerter) TradeReverted(context.Context, domain.AttemptRecord) { f.reverted++ }

func (f *fakeAlerter) BreakerTripped(context.Context, int) { f.breakerTrips++ }

func (f *fakeAlerter) Error(context.Context, string, error) { f.errors++ }

type harness struct {
	orch     *Orchestrator
	pools    *fakePools
	cache    *fakeCache
	executor *fakeExecutor
	store    *fakeStore
	alerter  *fakeAlerter
	now      time.Time
}

func newHarness(t *testing.T, mode string, breakerThreshold int) *harness {
	t.Helper()
	cfg := config.Defaults()
	cfg.Search.BaseTokens = []string{"USDC", "WETH"}
	cfg.Orchestrator.BreakerThreshold = breakerThreshold

	h := &harness{
		pools:    &fakePools{records: spreadRecords()},
		cache:    &fakeCache{},
		executor: &fakeExecutor{},
		store:    &fakeStore{},
		alerter:  &fakeAlerter{},
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	h.orch = New(Options{
		Mode:      mode,
		Config:    cfg.Orchestrator,
		Gas:       cfg.Gas,
		MinTVLUSD: cfg.Fetcher.MinTVLUSD,
		Native:    "WETH",
		Pools:     h.pools,
		Cache:     h.cache,
		Searcher:  graph.NewSearcher(cfg.Search, testLogger()),
		Evaluator: decision.NewEvaluator(cfg.Decision, cfg.Gas, testLogger()),
		Pricer:    fakePricer{},
		Executor:  h.executor,
		Store:     h.store,
		Alerter:   h.alerter,
		Logger:    testLogger(),
	})
	h.orch.State().SetClock(func() time.Time { return h.now })
	return h
}

func (h *harness) cycle(t *testing.T) {
	t.Helper()
	if err := h.orch.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.now = h.now.Add(time.Second)
}

func TestRunCycleDryRunRecordsAttempts(t *testing.T) {
	h := newHarness(t, ModeScan, 10)

	h.cycle(t)

	if n := h.store.byOutcome(domain.AttemptDryRun); n == 0 {
		t.Fatal("no dry-run attempts recorded")
	}
	for _, rec := range h.store.records {
		if rec.Outcome != domain.AttemptDryRun {
			t.Fatalf("scan mode produced outcome %s", rec.Outcome)
		}
		if rec.NetProfitUSD <= 0 {
			t.Fatalf("dry run for unprofitable plan: %+v", rec)
		}
	}
	if snap := h.orch.Stats().Snapshot(); snap.Approved == 0 || snap.Detected == 0 {
		t.Fatalf("stats = %+v", snap)
	}
}

func TestExecuteModeSubmitsAndConfirms(t *testing.T) {
	h := newHarness(t, ModeExecute, 10)

	h.cycle(t)

	if h.executor.buildCalls != 1 || h.executor.submitCalls != 1 {
		t.Fatalf("build/submit = %d/%d, want 1/1", h.executor.buildCalls, h.executor.submitCalls)
	}
	if n := h.store.byOutcome(domain.AttemptExecuted); n != 1 {
		t.Fatalf("executed records = %d, want 1", n)
	}
	if h.alerter.executed != 1 {
		t.Fatalf("executed alerts = %d, want 1", h.alerter.executed)
	}
	if h.store.records[0].TxHash == "" {
		t.Fatal("executed record has no tx hash")
	}
}

func TestBreakerTripsAfterConsecutiveRevertsAndScanningContinues(t *testing.T) {
	h := newHarness(t, ModeExecute, 3)
	h.executor.waitErr = fmt.Errorf("tx: %w", domain.ErrExecutionReverted)

	for i := 0; i < 3; i++ {
		h.cycle(t)
	}

	if !h.orch.State().Breaker().Tripped() {
		t.Fatal("breaker not tripped after three reverts")
	}
	if h.alerter.breakerTrips != 1 {
		t.Fatalf("breaker alerts = %d, want 1", h.alerter.breakerTrips)
	}
	if n := h.store.byOutcome(domain.AttemptReverted); n != 3 {
		t.Fatalf("reverted records = %d, want 3", n)
	}

	// The loop keeps scanning while tripped but nothing executes.
	buildsBefore := h.executor.buildCalls
	h.cycle(t)
	if h.executor.buildCalls != buildsBefore {
		t.Fatal("execution attempted while breaker open")
	}
	snap := h.orch.Stats().Snapshot()
	if snap.ScansCompleted != 4 {
		t.Fatalf("scans = %d, want 4", snap.ScansCompleted)
	}
	if snap.RejectionsByGate["circuit_breaker"] == 0 {
		t.Fatal("no circuit_breaker rejections recorded")
	}

	// Reset restores execution.
	h.orch.State().Breaker().Reset()
	h.executor.waitErr = nil
	h.cycle(t)
	if n := h.store.byOutcome(domain.AttemptExecuted); n != 1 {
		t.Fatalf("executed records after reset = %d, want 1", n)
	}
	if h.orch.State().Breaker().Tripped() {
		t.Fatal("breaker reopened after successful execution")
	}
}

func TestLoadRecordsUsesCacheWhileFresh(t *testing.T) {
	h := newHarness(t, ModeScan, 10)
	h.cache.pairCount = 2

	h.cycle(t)
	if h.pools.fetchCalls != 0 || h.pools.cacheCalls != 1 {
		t.Fatalf("fetch/cache calls = %d/%d, want 0/1", h.pools.fetchCalls, h.pools.cacheCalls)
	}

	// Once the namespace empties out the next cycle refetches.
	h.cache.pairCount = 0
	h.cycle(t)
	if h.pools.fetchCalls != 1 {
		t.Fatalf("fetch calls = %d, want 1", h.pools.fetchCalls)
	}

	snap := h.orch.Stats().Snapshot()
	if snap.CacheRefreshes != 1 {
		t.Fatalf("cache refreshes = %d, want 1", snap.CacheRefreshes)
	}
}

func TestMonitorModeSkipsEvaluation(t *testing.T) {
	h := newHarness(t, ModeMonitor, 10)

	h.cycle(t)

	if len(h.store.records) != 0 {
		t.Fatalf("monitor mode recorded %d attempts", len(h.store.records))
	}
	if h.executor.buildCalls != 0 {
		t.Fatal("monitor mode attempted execution")
	}
	snap := h.orch.Stats().Snapshot()
	if snap.ScansCompleted != 1 || snap.Detected != 0 {
		t.Fatalf("stats = %+v", snap)
	}
}
