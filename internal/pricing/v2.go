// Package pricing implements AMM swap math on raw integer amounts,
// reproducing on-chain arithmetic exactly for constant-product pools and
// approximating concentrated-liquidity pools from reference quotes.
package pricing

import (
	"errors"
	"math"
	"math/big"
)

var (
	ErrInvalidAmount   = errors.New("pricing: amount must be positive")
	ErrEmptyReserves   = errors.New("pricing: reserves must be positive")
	ErrInvalidFee      = errors.New("pricing: fee out of range")
	ErrInvalidRefQuote = errors.New("pricing: reference quote must be positive")
)

const bpsDenominator = 10_000

// V2AmountOut computes the exact output of a constant-product swap:
//
//	floor(amountIn*(10000-feeBps)*reserveOut / (reserveIn*10000 + amountIn*(10000-feeBps)))
//
// All arithmetic is integer with a single final floor division, matching the
// UniswapV2 router bit for bit.
func V2AmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps int64) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if reserveIn == nil || reserveIn.Sign() <= 0 || reserveOut == nil || reserveOut.Sign() <= 0 {
		return nil, ErrEmptyReserves
	}
	if feeBps < 0 || feeBps >= bpsDenominator {
		return nil, ErrInvalidFee
	}

	feeMul := big.NewInt(bpsDenominator - feeBps)
	amountInWithFee := new(big.Int).Mul(amountIn, feeMul)

	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, big.NewInt(bpsDenominator))
	denominator.Add(denominator, amountInWithFee)

	return numerator.Quo(numerator, denominator), nil
}

// V2SpotPrice returns the marginal price of one whole input token in whole
// output tokens, reserves adjusted to human units by their decimals. Zero
// reserves yield zero.
func V2SpotPrice(reserveIn, reserveOut *big.Int, decIn, decOut uint8) float64 {
	if reserveIn == nil || reserveIn.Sign() <= 0 || reserveOut == nil || reserveOut.Sign() <= 0 {
		return 0
	}
	rin := rawToFloat(reserveIn, decIn)
	rout := rawToFloat(reserveOut, decOut)
	if rin == 0 {
		return 0
	}
	return rout / rin
}

// V2Slippage returns the realized price impact of a swap as a fraction in
// [0, 1): 1 - amountOut/(amountIn*spot), both amounts in human units. It is
// zero for infinitesimal trades and grows monotonically with trade size.
func V2Slippage(amountIn, amountOut *big.Int, spot float64, decIn, decOut uint8) float64 {
	if spot <= 0 || amountIn == nil || amountIn.Sign() <= 0 {
		return 0
	}
	in := rawToFloat(amountIn, decIn)
	out := rawToFloat(amountOut, decOut)
	ideal := in * spot
	if ideal == 0 {
		return 0
	}
	s := 1 - out/ideal
	if s < 0 {
		return 0
	}
	return s
}

// rawToFloat converts a raw integer token amount to human units.
func rawToFloat(v *big.Int, decimals uint8) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f / math.Pow10(int(decimals))
}
