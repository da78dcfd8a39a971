package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AMMKind distinguishes the pool pricing model.
type AMMKind string

const (
	AMMKindV2 AMMKind = "v2"
	AMMKindV3 AMMKind = "v3"
)

// PoolRecord is one snapshot of a liquidity pool, replaced wholesale on
// each successful fetch. Within a scan cycle records are read-only.
type PoolRecord struct {
	DexID       string
	PoolAddress common.Address
	Kind        AMMKind

	Token0        string
	Token1        string
	Token0Address common.Address
	Token1Address common.Address
	Decimals0     uint8
	Decimals1     uint8

	// V2: pool fee in basis points. V3: fee tier in hundredths of a bip
	// (e.g. 3000 = 0.3%).
	FeeBps           int64
	FeeHundredthsBip int64

	// V2 only.
	Reserve0 *big.Int
	Reserve1 *big.Int

	// Reference quotes for one whole token of input, raw output units.
	// V3 pools carry these instead of reserves.
	Quote0to1 *big.Int
	Quote1to0 *big.Int

	TVLUSD    float64
	Price0USD float64
	Price1USD float64
	FetchedAt time.Time
}

// CacheKey identifies the record within the pair-price namespace.
func (p PoolRecord) CacheKey() string {
	return p.DexID + ":" + p.Token0 + "-" + p.Token1
}

// TokenDecimals returns the decimals for the given side of the pool.
func (p PoolRecord) TokenDecimals(token string) uint8 {
	if token == p.Token0 {
		return p.Decimals0
	}
	return p.Decimals1
}

// PriceUSD returns the USD reference price for one side of the pool.
func (p PoolRecord) PriceUSD(token string) float64 {
	if token == p.Token0 {
		return p.Price0USD
	}
	return p.Price1USD
}

// Other returns the opposite token symbol of the pair.
func (p PoolRecord) Other(token string) string {
	if token == p.Token0 {
		return p.Token1
	}
	return p.Token0
}
