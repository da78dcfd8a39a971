// Package orchestrator runs the scan cycle: refresh pool data when the
// cache has gone stale, search the token graph for profitable cycles, gate
// the results and hand approved plans to the transaction builder. Cycles
// are strictly sequential; a new scan never starts while the previous one
// is still executing.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/hexlane/dexarb/internal/config"
	"github.com/hexlane/dexarb/internal/decision"
	"github.com/hexlane/dexarb/internal/domain"
	"github.com/hexlane/dexarb/internal/graph"
	"github.com/hexlane/dexarb/internal/txbuilder"
)

// Engine modes. Scan evaluates and records dry runs, execute submits
// transactions, monitor only refreshes pool data.
const (
	ModeScan    = "scan"
	ModeExecute = "execute"
	ModeMonitor = "monitor"
)

// PoolSource supplies pool snapshots, fresh or cached.
type PoolSource interface {
	FetchAll(ctx context.Context) ([]domain.PoolRecord, error)
	CachedRecords(ctx context.Context) ([]domain.PoolRecord, error)
}

// GasPricer supplies the current EIP-1559 fee components in wei.
type GasPricer interface {
	Quote(ctx context.Context) (baseFee, priorityFee *big.Int, err error)
}

// Executor signs and submits approved plans.
type Executor interface {
	Build(ctx context.Context, plan *domain.ExecutionPlan) (*types.Transaction, error)
	Submit(ctx context.Context, tx *types.Transaction) (common.Hash, error)
	WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Alerter is the notification surface the orchestrator emits to.
type Alerter interface {
	TradeExecuted(ctx context.Context, rec domain.AttemptRecord)
	TradeReverted(ctx context.Context, rec domain.AttemptRecord)
	BreakerTripped(ctx context.Context, consecutive int)
	Error(ctx context.Context, scope string, err error)
}

// Orchestrator owns the scan loop and all mutable execution state.
type Orchestrator struct {
	mode      string
	cfg       config.OrchestratorConfig
	gasCfg    config.GasConfig
	minTVLUSD float64
	native    string

	pools     PoolSource
	cache     domain.PoolCache
	searcher  *graph.Searcher
	evaluator *decision.Evaluator
	pricer    GasPricer
	executor  Executor
	store     domain.AttemptStore
	alerter   Alerter

	state  *decision.State
	stats  *Stats
	logger *slog.Logger
	now    func() time.Time
}

// Options carries the orchestrator's collaborators. Executor may be nil
// outside execute mode; Store and Alerter may be nil when persistence or
// alerting is not configured.
type Options struct {
	Mode      string
	Config    config.OrchestratorConfig
	Gas       config.GasConfig
	MinTVLUSD float64
	Native    string

	Pools     PoolSource
	Cache     domain.PoolCache
	Searcher  *graph.Searcher
	Evaluator *decision.Evaluator
	Pricer    GasPricer
	Executor  Executor
	Store     domain.AttemptStore
	Alerter   Alerter

	Logger *slog.Logger
}

// New builds an orchestrator with a fresh breaker and counters.
func New(opts Options) *Orchestrator {
	return &Orchestrator{
		mode:      opts.Mode,
		cfg:       opts.Config,
		gasCfg:    opts.Gas,
		minTVLUSD: opts.MinTVLUSD,
		native:    opts.Native,
		pools:     opts.Pools,
		cache:     opts.Cache,
		searcher:  opts.Searcher,
		evaluator: opts.Evaluator,
		pricer:    opts.Pricer,
		executor:  opts.Executor,
		store:     opts.Store,
		alerter:   opts.Alerter,
		state:     decision.NewState(decision.NewBreaker(opts.Config.BreakerThreshold)),
		stats:     &Stats{},
		logger:    opts.Logger.With(slog.String("component", "orchestrator")),
		now:       time.Now,
	}
}

// State exposes the execution bookkeeping, mainly for the status server
// and tests.
func (o *Orchestrator) State() *decision.State {
	return o.state
}

// Stats exposes the rolling counters.
func (o *Orchestrator) Stats() *Stats {
	return o.stats
}

// Run executes scan cycles until the context is cancelled. The breaker
// never stops the loop: scanning and detection continue while execution
// is halted.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("starting", slog.String("mode", o.mode),
		slog.Duration("scan_interval", o.cfg.ScanInterval.Duration))

	ticker := time.NewTicker(o.cfg.ScanInterval.Duration)
	defer ticker.Stop()

	for {
		if err := o.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Error("scan cycle failed", slog.String("error", err.Error()))
			o.stats.RecordError(err)
			if o.alerter != nil {
				o.alerter.Error(ctx, "scan", err)
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle performs one full scan pass.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	started := o.now()
	records, refreshed, err := o.loadRecords(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		o.logger.Warn("no pool records available, skipping cycle")
		o.stats.RecordScan(0, 0, refreshed)
		return nil
	}

	if o.mode == ModeMonitor {
		o.stats.RecordScan(len(records), 0, refreshed)
		o.logger.Info("monitor cycle complete",
			slog.Int("pools", len(records)),
			slog.Duration("elapsed", o.now().Sub(started)))
		return nil
	}

	base, tip, err := o.pricer.Quote(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: gas quote: %w", err)
	}
	nativeUSD := nativePrice(records, o.native)
	if nativeUSD <= 0 {
		return fmt.Errorf("orchestrator: no price for native token %s", o.native)
	}
	quote := decision.GasQuote{BaseFee: base, PriorityFee: tip, NativeUSD: nativeUSD}
	gasFn := o.gasCostFn(base, tip, nativeUSD)

	g := graph.Build(records, o.minTVLUSD)
	opps := o.searcher.TwoHopScan(records, gasFn)
	opps = append(opps, o.searcher.Search(g, gasFn)...)
	sortByNetProfit(opps)

	o.stats.RecordScan(len(records), len(opps), refreshed)
	o.logger.Info("scan cycle",
		slog.Int("pools", len(records)),
		slog.Int("opportunities", len(opps)),
		slog.Bool("refreshed", refreshed),
		slog.Duration("elapsed", o.now().Sub(started)))

	for _, opp := range opps {
		res := o.evaluator.Evaluate(opp, quote, o.state)
		if res.Status != decision.StatusApproved {
			o.stats.RecordRejection(res.Rejection.Gate)
			continue
		}
		o.stats.RecordApproval()
		if err := o.dispatch(ctx, res.Plan); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			o.logger.Error("dispatch failed",
				slog.String("path", opp.PathString()),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// loadRecords serves cached snapshots while the pair-price namespace still
// holds live entries and refetches otherwise. refreshed reports whether a
// fetch happened.
func (o *Orchestrator) loadRecords(ctx context.Context) ([]domain.PoolRecord, bool, error) {
	if o.cacheFresh(ctx) {
		records, err := o.pools.CachedRecords(ctx)
		if err == nil && len(records) > 0 {
			return records, false, nil
		}
		if err != nil {
			o.logger.Warn("cached records unavailable, refetching",
				slog.String("error", err.Error()))
		}
	}
	records, err := o.pools.FetchAll(ctx)
	if err != nil {
		return nil, true, fmt.Errorf("orchestrator: fetch pools: %w", err)
	}
	return records, true, nil
}

func (o *Orchestrator) cacheFresh(ctx context.Context) bool {
	statuses, err := o.cache.Status(ctx)
	if err != nil {
		return false
	}
	for _, st := range statuses {
		if st.Namespace == domain.NamespacePairPrice {
			return st.Count > 0
		}
	}
	return false
}

func (o *Orchestrator) dispatch(ctx context.Context, plan *domain.ExecutionPlan) error {
	if o.mode != ModeExecute {
		rec := o.attemptRecord(plan, domain.AttemptDryRun, "", nil)
		o.logger.Info("dry run",
			slog.String("path", plan.Opportunity.PathString()),
			slog.String("provider", string(plan.Provider)),
			slog.Float64("net_profit_usd", plan.Opportunity.NetProfitUSD))
		o.persist(ctx, rec)
		return nil
	}
	return o.execute(ctx, plan)
}

func (o *Orchestrator) execute(ctx context.Context, plan *domain.ExecutionPlan) error {
	tx, err := o.executor.Build(ctx, plan)
	if err != nil {
		o.persist(ctx, o.attemptRecord(plan, domain.AttemptFailed, "", err))
		return fmt.Errorf("orchestrator: build: %w", err)
	}
	hash, err := o.executor.Submit(ctx, tx)
	if err != nil {
		o.persist(ctx, o.attemptRecord(plan, domain.AttemptFailed, "", err))
		return fmt.Errorf("orchestrator: submit: %w", err)
	}

	// Gas is spent from submission on, revert or not.
	o.state.RecordExecution(plan.Opportunity.GasCostUSD)

	_, err = o.executor.WaitReceipt(ctx, hash)
	switch {
	case err == nil:
		o.state.Breaker().RecordSuccess()
		o.stats.RecordExecution()
		rec := o.attemptRecord(plan, domain.AttemptExecuted, hash.Hex(), nil)
		o.persist(ctx, rec)
		if o.alerter != nil {
			o.alerter.TradeExecuted(ctx, rec)
		}
		return nil

	case errors.Is(err, domain.ErrExecutionReverted):
		o.stats.RecordRevert()
		rec := o.attemptRecord(plan, domain.AttemptReverted, hash.Hex(), err)
		o.persist(ctx, rec)
		if o.alerter != nil {
			o.alerter.TradeReverted(ctx, rec)
		}
		if o.state.Breaker().RecordRevert() {
			o.logger.Error("circuit breaker tripped",
				slog.Int("consecutive_reverts", o.state.Breaker().ConsecutiveFailures()))
			o.stats.RecordBreakerTrip()
			if o.alerter != nil {
				o.alerter.BreakerTripped(ctx, o.state.Breaker().ConsecutiveFailures())
			}
		}
		return err

	default:
		o.persist(ctx, o.attemptRecord(plan, domain.AttemptFailed, hash.Hex(), err))
		return fmt.Errorf("orchestrator: confirm: %w", err)
	}
}

func (o *Orchestrator) attemptRecord(plan *domain.ExecutionPlan, outcome domain.AttemptOutcome, txHash string, err error) domain.AttemptRecord {
	rec := domain.AttemptRecord{
		ID:           uuid.NewString(),
		Path:         plan.Opportunity.PathString(),
		Kind:         plan.Opportunity.Kind,
		Provider:     plan.Provider,
		NotionalUSD:  plan.Opportunity.InputUSD,
		GasCostUSD:   plan.Opportunity.GasCostUSD,
		NetProfitUSD: plan.Opportunity.NetProfitUSD,
		Outcome:      outcome,
		TxHash:       txHash,
		AttemptedAt:  o.now(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}

func (o *Orchestrator) persist(ctx context.Context, rec domain.AttemptRecord) {
	if o.store == nil {
		return
	}
	if err := o.store.Insert(ctx, rec); err != nil {
		o.logger.Error("attempt record not persisted",
			slog.String("id", rec.ID),
			slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) gasCostFn(base, tip *big.Int, nativeUSD float64) graph.GasCostFunc {
	maxFee := txbuilder.MaxFeePerGas(base, tip)
	return func(hops int) float64 {
		return txbuilder.CostUSD(maxFee, txbuilder.GasUnits(o.gasCfg, hops), nativeUSD)
	}
}

func nativePrice(records []domain.PoolRecord, native string) float64 {
	for _, rec := range records {
		if rec.Token0 == native && rec.Price0USD > 0 {
			return rec.Price0USD
		}
		if rec.Token1 == native && rec.Price1USD > 0 {
			return rec.Price1USD
		}
	}
	return 0
}

func sortByNetProfit(opps []domain.Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		return opps[i].NetProfitUSD > opps[j].NetProfitUSD
	})
}
