package domain

import (
	"math/big"
	"strings"
	"time"
)

// OpportunityKind classifies how the cycle was found.
type OpportunityKind string

const (
	OpportunityTwoHop     OpportunityKind = "two_hop"
	OpportunityTriangular OpportunityKind = "triangular"
)

// FlashloanProvider names the liquidity source funding the trade.
type FlashloanProvider string

const (
	ProviderBalancer FlashloanProvider = "balancer"
	ProviderAave     FlashloanProvider = "aave"
)

// Leg is one swap within a cycle.
type Leg struct {
	Pool        PoolRecord
	TokenIn     string
	TokenOut    string
	AmountIn    *big.Int
	AmountOut   *big.Int
	SlippagePct float64
}

// Opportunity is a detected profitable cycle. Instances are immutable and
// consumed at most once.
type Opportunity struct {
	ID           string
	Kind         OpportunityKind
	Path         []string
	Legs         []Leg
	InputUSD     float64
	OutputUSD    float64
	GasCostUSD   float64
	NetProfitUSD float64
	ROIPct       float64
	DetectedAt   time.Time
}

// PathString renders the cycle as A->B->C->A for logs and records.
func (o Opportunity) PathString() string {
	return strings.Join(o.Path, "->")
}

// MaxLegSlippagePct returns the worst per-leg slippage in the cycle.
func (o Opportunity) MaxLegSlippagePct() float64 {
	var max float64
	for _, l := range o.Legs {
		if l.SlippagePct > max {
			max = l.SlippagePct
		}
	}
	return max
}

// MinLegTVLUSD returns the thinnest pool touched by the cycle.
func (o Opportunity) MinLegTVLUSD() float64 {
	if len(o.Legs) == 0 {
		return 0
	}
	min := o.Legs[0].Pool.TVLUSD
	for _, l := range o.Legs[1:] {
		if l.Pool.TVLUSD < min {
			min = l.Pool.TVLUSD
		}
	}
	return min
}

// ExecutionPlan is an approved opportunity with everything the transaction
// builder needs to submit it.
type ExecutionPlan struct {
	Opportunity Opportunity
	Provider    FlashloanProvider

	FlashloanFeeUSD float64

	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	GasLimit             uint64
	Nonce                uint64
}
