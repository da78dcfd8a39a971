package pricing

import (
	"math"
	"math/big"
)

// RawFromUSD converts a USD notional to a raw token amount given the token's
// USD price and decimals. Returns nil when the price is not positive.
func RawFromUSD(usd, priceUSD float64, decimals uint8) *big.Int {
	if priceUSD <= 0 || usd <= 0 {
		return nil
	}
	whole := usd / priceUSD
	raw, _ := new(big.Float).Mul(
		big.NewFloat(whole),
		big.NewFloat(math.Pow10(int(decimals))),
	).Int(nil)
	return raw
}

// USDFromRaw converts a raw token amount to USD given the token's price and
// decimals.
func USDFromRaw(raw *big.Int, priceUSD float64, decimals uint8) float64 {
	if raw == nil || priceUSD <= 0 {
		return 0
	}
	return rawToFloat(raw, decimals) * priceUSD
}

// WholeToken returns 10^decimals, one whole token in raw units.
func WholeToken(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}
