package decision

import (
	"fmt"
	"log/slog"
	"math/big"

	"github.com/hexlane/dexarb/internal/config"
	"github.com/hexlane/dexarb/internal/domain"
	"github.com/hexlane/dexarb/internal/txbuilder"
)

// Evaluation stages. Every opportunity enters at StatusDetected and leaves
// as either StatusApproved or StatusRejected; the stage reached before the
// terminal status is stamped into Result.Stage and the decision logs.
type Status string

const (
	StatusDetected  Status = "detected"
	StatusGasPriced Status = "gas_priced"
	StatusValidated Status = "validated"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
)

// Gate names used in rejections, in evaluation order.
const (
	GateMinTVL         = "min_tvl"
	GateMaxSlippage    = "max_slippage"
	GateMinProfit      = "min_profit"
	GateTradeRate      = "trade_rate"
	GateGasBudget      = "gas_budget"
	GateCooldown       = "cooldown"
	GateCircuitBreaker = "circuit_breaker"
)

// Rejection names the first gate an opportunity failed and why.
type Rejection struct {
	Gate   string
	Reason string
	err    error
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("decision: rejected at %s: %s", r.Gate, r.Reason)
}

func (r *Rejection) Unwrap() error { return r.err }

// GasQuote carries the live fee inputs for the gas-pricing stage. BaseFee
// and PriorityFee are in wei; NativeUSD is the gas token price.
type GasQuote struct {
	BaseFee     *big.Int
	PriorityFee *big.Int
	NativeUSD   float64
}

// Result is the outcome of one evaluation. Plan is set only on approval,
// Rejection only on rejection.
// Result is the outcome of one evaluation. Stage records how far the
// opportunity got: StatusGasPriced when a gate rejected it, StatusValidated
// when every gate passed.
type Result struct {
	Status     Status
	Stage      Status
	Plan       *domain.ExecutionPlan
	Rejection  *Rejection
	GasCostUSD float64
}

// Evaluator applies the execution gates to detected opportunities. It is
// stateless; rolling counters live in the State the orchestrator passes in.
type Evaluator struct {
	cfg    config.DecisionConfig
	gas    config.GasConfig
	logger *slog.Logger
}

// NewEvaluator builds an evaluator from the decision and gas settings.
func NewEvaluator(cfg config.DecisionConfig, gas config.GasConfig, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		cfg:    cfg,
		gas:    gas,
		logger: logger.With(slog.String("component", "decision")),
	}
}

// Evaluate runs an opportunity through the gate sequence against the given
// live gas quote and execution state. Gates run in a fixed order and the
// first failure wins, so a rejection always names the earliest problem.
func (e *Evaluator) Evaluate(opp domain.Opportunity, quote GasQuote, st *State) Result {
	gasCostUSD := e.gasCostUSD(quote, len(opp.Legs))
	net := opp.OutputUSD - opp.InputUSD - gasCostUSD
	stage := StatusGasPriced

	provider, flashFee := e.chooseProvider(opp.InputUSD)
	netAfterFees := net - flashFee

	if rej := e.gates(opp, st, gasCostUSD, net, netAfterFees); rej != nil {
		e.logger.Debug("opportunity rejected",
			slog.String("path", opp.PathString()),
			slog.String("stage", string(stage)),
			slog.String("gate", rej.Gate),
			slog.String("reason", rej.Reason))
		return Result{Status: StatusRejected, Stage: stage, Rejection: rej, GasCostUSD: gasCostUSD}
	}
	stage = StatusValidated

	maxFee := txbuilder.MaxFeePerGas(quote.BaseFee, quote.PriorityFee)
	opp.GasCostUSD = gasCostUSD
	opp.NetProfitUSD = netAfterFees
	if opp.InputUSD > 0 {
		opp.ROIPct = netAfterFees / opp.InputUSD * 100
	}

	plan := &domain.ExecutionPlan{
		Opportunity:          opp,
		Provider:             provider,
		FlashloanFeeUSD:      flashFee,
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: new(big.Int).Set(quote.PriorityFee),
		GasLimit:             txbuilder.GasUnits(e.gas, len(opp.Legs)),
	}
	e.logger.Info("opportunity approved",
		slog.String("path", opp.PathString()),
		slog.String("provider", string(provider)),
		slog.Float64("net_profit_usd", netAfterFees),
		slog.Float64("gas_cost_usd", gasCostUSD))
	return Result{Status: StatusApproved, Stage: stage, Plan: plan, GasCostUSD: gasCostUSD}
}

func (e *Evaluator) gates(opp domain.Opportunity, st *State, gasCostUSD, net, netAfterFees float64) *Rejection {
	if tvl := opp.MinLegTVLUSD(); tvl < e.cfg.MinPoolTVLUSD {
		return &Rejection{
			Gate:   GateMinTVL,
			Reason: fmt.Sprintf("pool TVL %.0f below minimum %.0f", tvl, e.cfg.MinPoolTVLUSD),
		}
	}
	if slip := opp.MaxLegSlippagePct(); slip > e.cfg.MaxSlippagePct {
		return &Rejection{
			Gate:   GateMaxSlippage,
			Reason: fmt.Sprintf("leg slippage %.2f%% above maximum %.2f%%", slip, e.cfg.MaxSlippagePct),
		}
	}
	if net < e.cfg.MinProfitUSD || netAfterFees < e.cfg.MinProfitAfterFeesUSD {
		return &Rejection{
			Gate: GateMinProfit,
			Reason: fmt.Sprintf("net %.2f after fees %.2f below thresholds %.2f/%.2f",
				net, netAfterFees, e.cfg.MinProfitUSD, e.cfg.MinProfitAfterFeesUSD),
		}
	}
	if n := st.TradesInLastMinute(); n >= e.cfg.MaxTradesPerMinute {
		return &Rejection{
			Gate:   GateTradeRate,
			Reason: fmt.Sprintf("%d trades in the last minute, limit %d", n, e.cfg.MaxTradesPerMinute),
		}
	}
	if spent := st.GasSpentLastHourUSD(); spent+gasCostUSD > e.cfg.MaxGasPerHourUSD {
		return &Rejection{
			Gate: GateGasBudget,
			Reason: fmt.Sprintf("hourly gas spend %.2f+%.2f exceeds budget %.2f",
				spent, gasCostUSD, e.cfg.MaxGasPerHourUSD),
		}
	}
	if since := st.SinceLastExecution(); since < e.cfg.Cooldown.Duration {
		return &Rejection{
			Gate:   GateCooldown,
			Reason: fmt.Sprintf("only %s since last execution, cooldown %s", since, e.cfg.Cooldown.Duration),
		}
	}
	if st.Breaker().Tripped() {
		return &Rejection{
			Gate:   GateCircuitBreaker,
			Reason: fmt.Sprintf("breaker open after %d consecutive reverts", st.Breaker().ConsecutiveFailures()),
			err:    domain.ErrCircuitOpen,
		}
	}
	return nil
}

// chooseProvider picks the flashloan source: the zero-fee provider when
// preferred and the notional fits under its liquidity ceiling, otherwise
// the fee-bearing fallback.
func (e *Evaluator) chooseProvider(notionalUSD float64) (domain.FlashloanProvider, float64) {
	if e.cfg.PreferBalancer && notionalUSD <= e.cfg.BalancerMaxNotionalUSD {
		return domain.ProviderBalancer, 0
	}
	fee := notionalUSD * float64(e.cfg.AaveFeeBps) / 10_000
	return domain.ProviderAave, fee
}

func (e *Evaluator) gasCostUSD(quote GasQuote, hops int) float64 {
	if quote.BaseFee == nil || quote.PriorityFee == nil {
		return 0
	}
	perGas := txbuilder.MaxFeePerGas(quote.BaseFee, quote.PriorityFee)
	return txbuilder.CostUSD(perGas, txbuilder.GasUnits(e.gas, hops), quote.NativeUSD)
}
