package txbuilder

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/hexlane/dexarb/internal/config"
)

// NodeCaller is the slice of the RPC pool the gas pricer and builder need.
type NodeCaller interface {
	Call(ctx context.Context, result any, method string, args ...any) error
}

// BaseFeeSource reports the latest observed base fee, typically the newHeads
// websocket feed. ok is false when no fresh head is available.
type BaseFeeSource interface {
	BaseFee() (fee *big.Int, block uint64, ok bool)
}

type feeHistoryResult struct {
	BaseFeePerGas []hexutil.Big   `json:"baseFeePerGas"`
	Reward        [][]hexutil.Big `json:"reward"`
}

// Pricer produces EIP-1559 fee components. The base fee comes from the head
// feed when fresh and from eth_feeHistory otherwise; the priority tip is the
// median of recent rewards at the configured percentile, clamped to the
// floor and ceiling.
type Pricer struct {
	node   NodeCaller
	heads  BaseFeeSource
	cfg    config.GasConfig
	logger *slog.Logger
}

// NewPricer builds a pricer. heads may be nil when no websocket endpoint is
// configured; every quote then falls back to eth_feeHistory.
func NewPricer(node NodeCaller, heads BaseFeeSource, cfg config.GasConfig, logger *slog.Logger) *Pricer {
	return &Pricer{
		node:   node,
		heads:  heads,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "gas")),
	}
}

// Quote returns the current base fee and clamped priority tip, both in wei.
func (p *Pricer) Quote(ctx context.Context) (baseFee, priorityFee *big.Int, err error) {
	hist, err := p.feeHistory(ctx)
	if err != nil {
		return nil, nil, err
	}

	baseFee = p.baseFee(hist)
	if baseFee == nil {
		return nil, nil, fmt.Errorf("txbuilder: fee history carries no base fee")
	}
	priorityFee = p.clampPriority(medianReward(hist))
	return baseFee, priorityFee, nil
}

func (p *Pricer) feeHistory(ctx context.Context) (*feeHistoryResult, error) {
	var hist feeHistoryResult
	blocks := hexutil.Uint64(p.cfg.FeeHistoryBlocks)
	pcts := []float64{float64(p.cfg.RewardPercentile)}
	if err := p.node.Call(ctx, &hist, "eth_feeHistory", blocks, "latest", pcts); err != nil {
		return nil, fmt.Errorf("txbuilder: fee history: %w", err)
	}
	return &hist, nil
}

func (p *Pricer) baseFee(hist *feeHistoryResult) *big.Int {
	if p.heads != nil {
		if fee, block, ok := p.heads.BaseFee(); ok {
			p.logger.Debug("base fee from head feed",
				slog.Uint64("block", block),
				slog.String("base_fee", fee.String()))
			return fee
		}
	}
	if len(hist.BaseFeePerGas) == 0 {
		return nil
	}
	// The last entry is the projected fee for the next block.
	return hist.BaseFeePerGas[len(hist.BaseFeePerGas)-1].ToInt()
}

func (p *Pricer) clampPriority(tip *big.Int) *big.Int {
	floor := gweiToWei(p.cfg.PriorityFeeFloorGwei)
	ceiling := gweiToWei(p.cfg.PriorityFeeCeilingGwei)
	if tip == nil || tip.Cmp(floor) < 0 {
		return floor
	}
	if tip.Cmp(ceiling) > 0 {
		return ceiling
	}
	return tip
}

// medianReward takes the first percentile column of each block's rewards and
// returns the median across blocks, or nil when the history is empty.
func medianReward(hist *feeHistoryResult) *big.Int {
	rewards := make([]*big.Int, 0, len(hist.Reward))
	for _, block := range hist.Reward {
		if len(block) == 0 {
			continue
		}
		rewards = append(rewards, block[0].ToInt())
	}
	if len(rewards) == 0 {
		return nil
	}
	sort.Slice(rewards, func(i, j int) bool { return rewards[i].Cmp(rewards[j]) < 0 })
	return rewards[len(rewards)/2]
}

func gweiToWei(gwei float64) *big.Int {
	f := new(big.Float).Mul(big.NewFloat(gwei), big.NewFloat(1e9))
	wei, _ := f.Int(nil)
	return wei
}

// GasUnits estimates the execution gas for a cycle with the given number of
// hops, including the padding margin.
func GasUnits(cfg config.GasConfig, hops int) uint64 {
	units := cfg.GasUnitsBase + cfg.GasUnitsPerHop*uint64(hops)
	return units + units*uint64(cfg.GasPaddingPct)/100
}

// MaxFeePerGas applies the two-times-base plus tip cap used for submitted
// transactions.
func MaxFeePerGas(baseFee, priorityFee *big.Int) *big.Int {
	fee := new(big.Int).Lsh(baseFee, 1)
	return fee.Add(fee, priorityFee)
}

// CostUSD converts a fee-per-gas and unit estimate into dollars using the
// native token price.
func CostUSD(maxFeePerGas *big.Int, units uint64, nativeUSD float64) float64 {
	if maxFeePerGas == nil || nativeUSD <= 0 {
		return 0
	}
	wei := new(big.Int).Mul(maxFeePerGas, new(big.Int).SetUint64(units))
	native, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18)).Float64()
	return native * nativeUSD
}
