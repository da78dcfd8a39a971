package graph

import (
	"log/slog"
	"math"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hexlane/dexarb/internal/config"
	"github.com/hexlane/dexarb/internal/domain"
)

var poolSeq int

func v2Pool(dex, token0, token1 string, dec0, dec1 uint8, r0, r1 *big.Int, p0, p1 float64) domain.PoolRecord {
	poolSeq++
	var addr common.Address
	addr[19] = byte(poolSeq)
	return domain.PoolRecord{
		DexID:       dex,
		PoolAddress: addr,
		Kind:        domain.AMMKindV2,
		Token0:      token0,
		Token1:      token1,
		Decimals0:   dec0,
		Decimals1:   dec1,
		FeeBps:      30,
		Reserve0:    r0,
		Reserve1:    r1,
		Price0USD:   p0,
		Price1USD:   p1,
		TVLUSD:      1_000_000,
	}
}

func usdcRaw(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000))
}

func e18(n int64) *big.Int {
	w, _ := new(big.Int).SetString("1000000000000000000", 10)
	return new(big.Int).Mul(big.NewInt(n), w)
}

func flatGas(usd float64) GasCostFunc {
	return func(int) float64 { return usd }
}

func searchConfig(notionals ...float64) config.SearchConfig {
	return config.SearchConfig{
		BaseTokens:          []string{"USDC"},
		MaxHops:             3,
		TestNotionalsUSD:    notionals,
		PruneRetentionRatio: 0.8,
	}
}

// plantedCycle builds three pools whose prices disagree enough that
// USDC->WETH->WMATIC->USDC nets about +185 USD on 1,000 USDC.
func plantedCycle() []domain.PoolRecord {
	return []domain.PoolRecord{
		v2Pool("quickswap", "USDC", "WETH", 6, 18, usdcRaw(1_000_000), e18(500), 1, 2000),
		v2Pool("quickswap", "WETH", "WMATIC", 18, 18, e18(500), e18(2_000_000), 2000, 0.6),
		v2Pool("quickswap", "WMATIC", "USDC", 18, 6, e18(2_000_000), usdcRaw(1_200_000), 0.6, 1),
	}
}

func TestBuildGraph(t *testing.T) {
	g := Build(plantedCycle(), 5000)

	if got := len(g.Tokens()); got != 3 {
		t.Errorf("tokens = %d, want 3", got)
	}
	// Three pools, two directed edges each.
	if got := g.EdgeCount(); got != 6 {
		t.Errorf("edges = %d, want 6", got)
	}
	if got := len(g.EdgesFrom("USDC")); got != 2 {
		t.Errorf("edges from USDC = %d, want 2", got)
	}
}

func TestBuildDropsThinPools(t *testing.T) {
	records := plantedCycle()
	records[2].TVLUSD = 100 // below floor

	g := Build(records, 5000)
	if got := g.EdgeCount(); got != 4 {
		t.Errorf("edges = %d, want 4 after dropping thin pool", got)
	}
}

func TestSearchFindsPlantedThreeHopCycle(t *testing.T) {
	g := Build(plantedCycle(), 5000)
	s := NewSearcher(searchConfig(1000), slog.Default())

	opps := s.Search(g, flatGas(1))
	if len(opps) == 0 {
		t.Fatal("planted cycle not found")
	}

	best := opps[0]
	if best.Path[0] != "USDC" || best.Path[len(best.Path)-1] != "USDC" {
		t.Errorf("path %v does not start and end at the base token", best.Path)
	}
	if len(best.Legs) != 3 {
		t.Errorf("legs = %d, want 3", len(best.Legs))
	}
	// Simulated profit: 185.696577 gross minus 1 USD gas.
	if math.Abs(best.NetProfitUSD-184.696577) > 0.01 {
		t.Errorf("net profit = %.6f, want ~184.70", best.NetProfitUSD)
	}
	if best.OutputUSD <= best.InputUSD {
		t.Errorf("output %.2f not above input %.2f", best.OutputUSD, best.InputUSD)
	}
	if best.Kind != domain.OpportunityTriangular {
		t.Errorf("kind = %s", best.Kind)
	}
	if best.ROIPct < 18 || best.ROIPct > 19 {
		t.Errorf("roi = %.2f%%, want ~18.5%%", best.ROIPct)
	}
}

func TestSearchReportsEachCycleOnceAcrossBaseTokens(t *testing.T) {
	g := Build(plantedCycle(), 5000)
	cfg := searchConfig(1000)
	// Every token in the triangle is a base, so the DFS reaches the same
	// loop three times, once per entry point.
	cfg.BaseTokens = []string{"USDC", "WETH", "WMATIC"}
	s := NewSearcher(cfg, slog.Default())

	opps := s.Search(g, flatGas(1))
	if len(opps) != 1 {
		t.Fatalf("one planted cycle reported %d times, want 1", len(opps))
	}
	if len(opps[0].Legs) != 3 {
		t.Errorf("legs = %d, want 3", len(opps[0].Legs))
	}
}

func TestSearchLeavesTwoHopCyclesToTwoHopScan(t *testing.T) {
	pools := []domain.PoolRecord{
		v2Pool("quickswap", "USDC", "WETH", 6, 18, usdcRaw(1_000_000), e18(500), 1, 2000),
		v2Pool("sushiswap", "USDC", "WETH", 6, 18, usdcRaw(500_000), e18(260), 1, 1923),
	}
	g := Build(pools, 5000)
	s := NewSearcher(searchConfig(1000), slog.Default())

	if opps := s.Search(g, flatGas(1)); len(opps) != 0 {
		t.Errorf("cross-dex pair reported %d times by the deep search", len(opps))
	}
}

func TestSearchReportsNothingWhenUnprofitable(t *testing.T) {
	records := plantedCycle()
	// Flatten the mispricing: the last pool now prices WMATIC at 0.5 USDC,
	// so the round trip loses to fees.
	records[2] = v2Pool("quickswap", "WMATIC", "USDC", 18, 6, e18(2_000_000), usdcRaw(1_000_000), 0.5, 1)

	g := Build(records, 5000)
	s := NewSearcher(searchConfig(1000), slog.Default())

	if opps := s.Search(g, flatGas(1)); len(opps) != 0 {
		t.Errorf("found %d opportunities in an arbitrage-free market", len(opps))
	}
}

func TestSearchGasCostCanKillProfit(t *testing.T) {
	g := Build(plantedCycle(), 5000)
	s := NewSearcher(searchConfig(1000), slog.Default())

	if opps := s.Search(g, flatGas(500)); len(opps) != 0 {
		t.Errorf("gross profit 185 should not survive 500 USD gas, got %d", len(opps))
	}
}

func TestTwoHopScanPicksBestNotionalAndDirection(t *testing.T) {
	pools := []domain.PoolRecord{
		v2Pool("quickswap", "USDC", "WETH", 6, 18, usdcRaw(1_000_000), e18(500), 1, 2000),
		v2Pool("sushiswap", "USDC", "WETH", 6, 18, usdcRaw(500_000), e18(260), 1, 1923),
	}
	s := NewSearcher(searchConfig(1000, 10_000, 50_000), slog.Default())

	opps := s.TwoHopScan(pools, flatGas(1))
	if len(opps) == 0 {
		t.Fatal("cross-dex spread not found")
	}

	best := opps[0]
	if best.Kind != domain.OpportunityTwoHop {
		t.Errorf("kind = %s", best.Kind)
	}
	// The best route sells WETH where it is rich and buys it back where it
	// is cheap, at the 10k notional: 1k nets ~30, 50k is deeply negative.
	if math.Abs(best.InputUSD-10_000) > 1 {
		t.Errorf("input = %.2f, want 10000", best.InputUSD)
	}
	if math.Abs(best.NetProfitUSD-37.055826) > 0.01 {
		t.Errorf("net profit = %.6f, want ~37.06", best.NetProfitUSD)
	}
	if best.Path[0] != best.Path[len(best.Path)-1] {
		t.Errorf("path %v is not a cycle", best.Path)
	}

	// Every reported opportunity must be profitable; the losing direction
	// (buy on the rich pool) must not appear.
	for _, opp := range opps {
		if opp.NetProfitUSD <= 0 {
			t.Errorf("unprofitable opportunity reported: %+v", opp)
		}
	}
}

func TestTwoHopScanReportsEachSpreadOnce(t *testing.T) {
	pools := []domain.PoolRecord{
		v2Pool("quickswap", "USDC", "WETH", 6, 18, usdcRaw(1_000_000), e18(500), 1, 2000),
		v2Pool("sushiswap", "USDC", "WETH", 6, 18, usdcRaw(500_000), e18(260), 1, 1923),
	}
	s := NewSearcher(searchConfig(1000), slog.Default())

	// Entering the profitable loop from USDC or from WETH is the same two
	// swaps; only one opportunity may come out.
	opps := s.TwoHopScan(pools, flatGas(1))
	if len(opps) != 1 {
		t.Fatalf("spread reported %d times, want 1", len(opps))
	}
	if math.Abs(opps[0].NetProfitUSD-29.692724) > 0.01 {
		t.Errorf("net profit = %.6f, want ~29.69", opps[0].NetProfitUSD)
	}
}

func TestTwoHopScanSinglePoolPair(t *testing.T) {
	pools := []domain.PoolRecord{
		v2Pool("quickswap", "USDC", "WETH", 6, 18, usdcRaw(1_000_000), e18(500), 1, 2000),
	}
	s := NewSearcher(searchConfig(1000), slog.Default())

	if opps := s.TwoHopScan(pools, flatGas(1)); len(opps) != 0 {
		t.Errorf("one pool cannot arbitrage itself, got %d", len(opps))
	}
}

func TestSearchDoesNotReuseAPool(t *testing.T) {
	// Only two pools: any cycle would have to cross the same pool twice
	// or use both; USDC->WETH->USDC through two pools at the same price is
	// unprofitable, and reusing one pool is forbidden.
	pools := []domain.PoolRecord{
		v2Pool("quickswap", "USDC", "WETH", 6, 18, usdcRaw(1_000_000), e18(500), 1, 2000),
		v2Pool("sushiswap", "USDC", "WETH", 6, 18, usdcRaw(2_000_000), e18(1000), 1, 2000),
	}
	g := Build(pools, 5000)
	s := NewSearcher(searchConfig(1000), slog.Default())

	for _, opp := range s.Search(g, flatGas(0)) {
		seen := map[string]bool{}
		for _, leg := range opp.Legs {
			k := leg.Pool.DexID + leg.Pool.PoolAddress.Hex()
			if seen[k] {
				t.Errorf("pool reused in %v", opp.Path)
			}
			seen[k] = true
		}
	}
}
