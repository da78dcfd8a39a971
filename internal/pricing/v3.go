package pricing

import "math/big"

const hundredthsBipDenominator = 1_000_000

// V3AmountOut estimates the output of a concentrated-liquidity swap by
// linearly scaling a reference quote (refQuote output units for refAmountIn
// input units) to the requested notional, then applying the fee tier given
// in hundredths of a bip (3000 = 0.3%).
//
// This is a deliberate approximation: it assumes the trade stays within the
// currently active tick range and ignores the price impact a real swap would
// incur. Callers bound its error by keeping notionals small relative to pool
// liquidity.
func V3AmountOut(amountIn, refAmountIn, refQuote *big.Int, feeHundredthsBip int64) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if refAmountIn == nil || refAmountIn.Sign() <= 0 || refQuote == nil || refQuote.Sign() <= 0 {
		return nil, ErrInvalidRefQuote
	}
	if feeHundredthsBip < 0 || feeHundredthsBip >= hundredthsBipDenominator {
		return nil, ErrInvalidFee
	}

	out := new(big.Int).Mul(amountIn, refQuote)
	out.Quo(out, refAmountIn)

	out.Mul(out, big.NewInt(hundredthsBipDenominator-feeHundredthsBip))
	out.Quo(out, big.NewInt(hundredthsBipDenominator))

	return out, nil
}

// V3SpotPrice returns the implied price of one whole input token from the
// reference quote, both sides adjusted to human units.
func V3SpotPrice(refAmountIn, refQuote *big.Int, decIn, decOut uint8) float64 {
	if refAmountIn == nil || refAmountIn.Sign() <= 0 || refQuote == nil || refQuote.Sign() <= 0 {
		return 0
	}
	in := rawToFloat(refAmountIn, decIn)
	out := rawToFloat(refQuote, decOut)
	if in == 0 {
		return 0
	}
	return out / in
}
