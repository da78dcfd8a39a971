package pricing

import (
	"errors"
	"math"
	"math/big"
	"testing"
)

func bi(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad big.Int literal: " + s)
	}
	return v
}

// usdc(n) and weth(n) build raw amounts at 6 and 18 decimals.
func usdc(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000))
}

func weth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), bi("1000000000000000000"))
}

func TestV2AmountOutExactFloor(t *testing.T) {
	tests := []struct {
		name       string
		amountIn   *big.Int
		reserveIn  *big.Int
		reserveOut *big.Int
		feeBps     int64
		want       *big.Int
	}{
		{
			name:       "small integer pool",
			amountIn:   big.NewInt(1000),
			reserveIn:  big.NewInt(10_000),
			reserveOut: big.NewInt(10_000),
			feeBps:     30,
			want:       big.NewInt(906),
		},
		{
			name:       "one weth into 100/200 pool",
			amountIn:   weth(1),
			reserveIn:  weth(100),
			reserveOut: weth(200),
			feeBps:     30,
			want:       bi("1974316068794122597"),
		},
		{
			name:       "ten thousand usdc into deep pool",
			amountIn:   usdc(10_000),
			reserveIn:  usdc(1_000_000),
			reserveOut: weth(500),
			feeBps:     30,
			want:       bi("4935790171985306494"),
		},
		{
			name:       "zero fee is pure constant product",
			amountIn:   big.NewInt(1000),
			reserveIn:  big.NewInt(10_000),
			reserveOut: big.NewInt(10_000),
			feeBps:     0,
			want:       big.NewInt(909), // floor(1000*10000/11000)
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := V2AmountOut(tt.amountIn, tt.reserveIn, tt.reserveOut, tt.feeBps)
			if err != nil {
				t.Fatalf("V2AmountOut: %v", err)
			}
			if got.Cmp(tt.want) != 0 {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestV2AmountOutRejectsInvalidInputs(t *testing.T) {
	r := big.NewInt(1000)

	if _, err := V2AmountOut(big.NewInt(0), r, r, 30); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero amountIn: got %v, want ErrInvalidAmount", err)
	}
	if _, err := V2AmountOut(big.NewInt(-5), r, r, 30); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("negative amountIn: got %v, want ErrInvalidAmount", err)
	}
	if _, err := V2AmountOut(big.NewInt(10), big.NewInt(0), r, 30); !errors.Is(err, ErrEmptyReserves) {
		t.Errorf("zero reserveIn: got %v, want ErrEmptyReserves", err)
	}
	if _, err := V2AmountOut(big.NewInt(10), r, r, 10_000); !errors.Is(err, ErrInvalidFee) {
		t.Errorf("fee 100%%: got %v, want ErrInvalidFee", err)
	}
	if _, err := V2AmountOut(big.NewInt(10), r, r, -1); !errors.Is(err, ErrInvalidFee) {
		t.Errorf("negative fee: got %v, want ErrInvalidFee", err)
	}
}

func TestV2AmountOutBelowSpotForPositiveFee(t *testing.T) {
	rin := usdc(1_000_000)
	rout := weth(500)
	spot := V2SpotPrice(rin, rout, 6, 18)

	for _, n := range []int64{1, 100, 10_000, 100_000} {
		in := usdc(n)
		out, err := V2AmountOut(in, rin, rout, 30)
		if err != nil {
			t.Fatalf("V2AmountOut(%d): %v", n, err)
		}
		outWhole := float64FromRaw(out, 18)
		ideal := float64(n) * spot
		if outWhole >= ideal {
			t.Errorf("notional %d: out %.8f >= spot-converted %.8f", n, outWhole, ideal)
		}
	}
}

func TestV2AmountOutMonotoneAndConcave(t *testing.T) {
	rin := usdc(1_000_000)
	rout := weth(500)

	notionals := []int64{1, 2, 10, 100, 1000, 10_000, 50_000}
	outs := make([]*big.Int, len(notionals))
	for i, n := range notionals {
		out, err := V2AmountOut(usdc(n), rin, rout, 30)
		if err != nil {
			t.Fatalf("V2AmountOut(%d): %v", n, err)
		}
		outs[i] = out
	}

	// Strictly increasing in amountIn.
	for i := 1; i < len(outs); i++ {
		if outs[i].Cmp(outs[i-1]) <= 0 {
			t.Errorf("not strictly increasing at notional %d", notionals[i])
		}
	}

	// Concave: output per unit input falls as size grows.
	for i := 1; i < len(outs); i++ {
		prevRate := float64FromRaw(outs[i-1], 18) / float64(notionals[i-1])
		rate := float64FromRaw(outs[i], 18) / float64(notionals[i])
		if rate > prevRate {
			t.Errorf("rate rose from %.12f to %.12f at notional %d", prevRate, rate, notionals[i])
		}
	}
}

func TestV2SlippageNonDecreasing(t *testing.T) {
	rin := usdc(1_000_000)
	rout := weth(500)
	spot := V2SpotPrice(rin, rout, 6, 18)

	var prev float64
	for _, n := range []int64{1, 10, 100, 1000, 10_000, 100_000} {
		in := usdc(n)
		out, err := V2AmountOut(in, rin, rout, 30)
		if err != nil {
			t.Fatalf("V2AmountOut(%d): %v", n, err)
		}
		s := V2Slippage(in, out, spot, 6, 18)
		if s < prev {
			t.Errorf("slippage fell from %.8f to %.8f at notional %d", prev, s, n)
		}
		if s < 0 || s >= 1 {
			t.Errorf("slippage %.8f out of [0,1) at notional %d", s, n)
		}
		prev = s
	}
}

func TestV2SpotPrice(t *testing.T) {
	// 1,000,000 USDC / 500 WETH: 1 USDC buys 0.0005 WETH.
	got := V2SpotPrice(usdc(1_000_000), weth(500), 6, 18)
	if math.Abs(got-0.0005) > 1e-12 {
		t.Errorf("got %.12f, want 0.0005", got)
	}

	// Reverse direction: 1 WETH = 2000 USDC.
	got = V2SpotPrice(weth(500), usdc(1_000_000), 18, 6)
	if math.Abs(got-2000) > 1e-6 {
		t.Errorf("got %.6f, want 2000", got)
	}

	if got := V2SpotPrice(big.NewInt(0), weth(500), 6, 18); got != 0 {
		t.Errorf("zero reserve: got %v, want 0", got)
	}
}

// TestTwoHopRoundTrip walks the canonical two-pool round trip by hand:
// 10,000 USDC buys WETH on a 1,000,000/500 pool, the proceeds sell into a
// 500,000/260 pool, 0.3% fee each leg.
func TestTwoHopRoundTrip(t *testing.T) {
	in := usdc(10_000)

	wethOut, err := V2AmountOut(in, usdc(1_000_000), weth(500), 30)
	if err != nil {
		t.Fatalf("leg 1: %v", err)
	}
	if want := bi("4935790171985306494"); wethOut.Cmp(want) != 0 {
		t.Fatalf("leg 1: got %s, want %s", wethOut, want)
	}

	usdcOut, err := V2AmountOut(wethOut, weth(260), usdc(500_000), 30)
	if err != nil {
		t.Fatalf("leg 2: %v", err)
	}
	if want := bi("9287642582"); usdcOut.Cmp(want) != 0 {
		t.Fatalf("leg 2: got %s, want %s", usdcOut, want)
	}

	// Pool B prices WETH below pool A, so this direction loses money.
	profit := float64FromRaw(new(big.Int).Sub(usdcOut, in), 6)
	if math.Abs(profit-(-712.357418)) > 1e-6 {
		t.Errorf("profit %.6f, want -712.357418", profit)
	}

	// The reverse direction (buy where cheap, sell where dear) profits.
	wethOut2, err := V2AmountOut(in, usdc(500_000), weth(260), 30)
	if err != nil {
		t.Fatalf("reverse leg 1: %v", err)
	}
	usdcOut2, err := V2AmountOut(wethOut2, weth(500), usdc(1_000_000), 30)
	if err != nil {
		t.Fatalf("reverse leg 2: %v", err)
	}
	if want := bi("10033890536"); usdcOut2.Cmp(want) != 0 {
		t.Errorf("reverse round trip: got %s, want %s", usdcOut2, want)
	}
}

func TestV3AmountOutLinearScaling(t *testing.T) {
	// Reference: 1 WETH quotes 2500 USDC; fee tier 0.3%.
	refIn := weth(1)
	refQuote := usdc(2500)

	out, err := V3AmountOut(weth(4), refIn, refQuote, 3000)
	if err != nil {
		t.Fatalf("V3AmountOut: %v", err)
	}
	if want := bi("9970000000"); out.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", out, want)
	}

	// Zero fee: pure ratio.
	out, err = V3AmountOut(weth(2), refIn, refQuote, 0)
	if err != nil {
		t.Fatalf("V3AmountOut: %v", err)
	}
	if want := usdc(5000); out.Cmp(want) != 0 {
		t.Errorf("zero fee: got %s, want %s", out, want)
	}

	if _, err := V3AmountOut(weth(1), big.NewInt(0), refQuote, 3000); !errors.Is(err, ErrInvalidRefQuote) {
		t.Errorf("zero refAmountIn: got %v, want ErrInvalidRefQuote", err)
	}
	if _, err := V3AmountOut(big.NewInt(0), refIn, refQuote, 3000); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero amountIn: got %v, want ErrInvalidAmount", err)
	}
}

func TestV3SpotPrice(t *testing.T) {
	got := V3SpotPrice(weth(1), usdc(2500), 18, 6)
	if math.Abs(got-2500) > 1e-9 {
		t.Errorf("got %.9f, want 2500", got)
	}
}

func TestUSDConversions(t *testing.T) {
	// 2.5 WETH at $2000.
	raw := bi("2500000000000000000")
	if got := USDFromRaw(raw, 2000, 18); math.Abs(got-5000) > 1e-9 {
		t.Errorf("USDFromRaw: got %.9f, want 5000", got)
	}

	if got := RawFromUSD(5000, 2000, 18); got.Cmp(raw) != 0 {
		t.Errorf("RawFromUSD: got %s, want %s", got, raw)
	}
	if got := RawFromUSD(100, 0, 18); got != nil {
		t.Errorf("zero price: got %s, want nil", got)
	}
	if got := WholeToken(6); got.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Errorf("WholeToken(6): got %s", got)
	}
}

func float64FromRaw(v *big.Int, decimals uint8) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f / math.Pow10(int(decimals))
}
