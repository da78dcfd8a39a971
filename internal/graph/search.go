package graph

import (
	"log/slog"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hexlane/dexarb/internal/config"
	"github.com/hexlane/dexarb/internal/domain"
	"github.com/hexlane/dexarb/internal/pricing"
)

// GasCostFunc returns the estimated USD gas cost of executing a cycle with
// the given hop count, from live fee data.
type GasCostFunc func(hops int) float64

// Searcher runs cycle detection over a built graph.
type Searcher struct {
	cfg    config.SearchConfig
	logger *slog.Logger
}

// NewSearcher creates a Searcher with the given limits.
func NewSearcher(cfg config.SearchConfig, logger *slog.Logger) *Searcher {
	return &Searcher{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "graph_search")),
	}
}

// pathState is one partial walk on the explicit DFS stack.
type pathState struct {
	token   string
	amount  *big.Int
	valueIn float64 // cumulative simulated USD value
	edges   []Edge
	visited map[string]bool
}

// Search walks the graph depth-first from every configured base token with
// an explicit stack, collecting cycles back to the base within the hop cap.
// Partial paths are pruned once their simulated value at the probe notional
// drops below the retention floor. Distinct cycles are then evaluated at
// every test notional and the best notional per cycle is kept.
func (s *Searcher) Search(g *Graph, gasCost GasCostFunc) []domain.Opportunity {
	probe := s.probeNotional()
	cycles := make(map[string][]Edge)

	for _, base := range s.cfg.BaseTokens {
		s.collectCycles(g, base, probe, cycles)
	}

	var out []domain.Opportunity
	for _, edges := range cycles {
		if opp, ok := s.bestNotional(edges, gasCost, domain.OpportunityTriangular); ok {
			out = append(out, opp)
		}
	}

	sortOpportunities(out)
	return out
}

// collectCycles runs the pruned DFS from one base token, recording each
// profitable-looking cycle under a direction-order key for deduplication.
func (s *Searcher) collectCycles(g *Graph, base string, probeUSD float64, cycles map[string][]Edge) {
	baseEdges := g.EdgesFrom(base)
	if len(baseEdges) == 0 {
		return
	}
	priceUSD := baseEdges[0].Pool.PriceUSD(base)
	decimals := baseEdges[0].Pool.TokenDecimals(base)
	start := pricing.RawFromUSD(probeUSD, priceUSD, decimals)
	if start == nil {
		return
	}

	floor := probeUSD * s.cfg.PruneRetentionRatio

	stack := []pathState{{
		token:   base,
		amount:  start,
		valueIn: probeUSD,
		visited: map[string]bool{base: true},
	}}

	for len(stack) > 0 {
		st := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if len(st.edges) >= s.cfg.MaxHops {
			continue
		}

		for _, e := range g.EdgesFrom(st.token) {
			closing := e.To == base
			if !closing && st.visited[e.To] {
				continue
			}
			if usesPool(st.edges, e) {
				continue
			}

			out, _, err := swapOut(e, st.amount)
			if err != nil || out.Sign() <= 0 {
				continue
			}

			valueUSD := pricing.USDFromRaw(out, e.Pool.PriceUSD(e.To), e.Pool.TokenDecimals(e.To))

			if closing {
				// Two-hop loops belong to TwoHopScan; recording them here
				// would report the same trade twice per scan.
				if len(st.edges)+1 < 3 {
					continue
				}
				cycle := append(append([]Edge{}, st.edges...), e)
				if key := cycleKey(cycle); cycles[key] == nil {
					cycles[key] = cycle
				}
				continue
			}

			if valueUSD < floor {
				continue // unrecoverable loss, prune the branch
			}

			visited := make(map[string]bool, len(st.visited)+1)
			for k := range st.visited {
				visited[k] = true
			}
			visited[e.To] = true

			stack = append(stack, pathState{
				token:   e.To,
				amount:  out,
				valueIn: valueUSD,
				edges:   append(append([]Edge{}, st.edges...), e),
				visited: visited,
			})
		}
	}
}

// TwoHopScan is the cheap special case: for every pair traded on at least
// two pools, buy on one and sell the proceeds on the other, both directions,
// independent of the general search.
func (s *Searcher) TwoHopScan(records []domain.PoolRecord, gasCost GasCostFunc) []domain.Opportunity {
	byPair := make(map[string][]domain.PoolRecord)
	for _, rec := range records {
		a, b := rec.Token0, rec.Token1
		if a > b {
			a, b = b, a
		}
		byPair[a+"/"+b] = append(byPair[a+"/"+b], rec)
	}

	var out []domain.Opportunity
	seen := make(map[string]bool)
	for _, pools := range byPair {
		if len(pools) < 2 {
			continue
		}
		for i := range pools {
			for j := range pools {
				if i == j {
					continue
				}
				for _, base := range []string{pools[i].Token0, pools[i].Token1} {
					mid := pools[i].Other(base)
					cycle := []Edge{
						{From: base, To: mid, Pool: pools[i]},
						{From: mid, To: base, Pool: pools[j]},
					}
					// Entering the loop from the other side enumerates the
					// same two swaps again; keep one.
					key := cycleKey(cycle)
					if seen[key] {
						continue
					}
					seen[key] = true
					if opp, ok := s.bestNotional(cycle, gasCost, domain.OpportunityTwoHop); ok {
						out = append(out, opp)
					}
				}
			}
		}
	}

	sortOpportunities(out)
	return out
}

// bestNotional simulates the cycle at every test notional and keeps the one
// maximizing net profit. Returns false when no notional clears zero.
func (s *Searcher) bestNotional(cycle []Edge, gasCost GasCostFunc, kind domain.OpportunityKind) (domain.Opportunity, bool) {
	var best domain.Opportunity
	found := false

	for _, notional := range s.cfg.TestNotionalsUSD {
		opp, ok := s.simulate(cycle, notional, gasCost, kind)
		if !ok || opp.NetProfitUSD <= 0 {
			continue
		}
		if !found || betterOpportunity(opp, best) {
			best = opp
			found = true
		}
	}
	return best, found
}

// simulate walks one cycle at one notional and prices the outcome.
func (s *Searcher) simulate(cycle []Edge, inputUSD float64, gasCost GasCostFunc, kind domain.OpportunityKind) (domain.Opportunity, bool) {
	base := cycle[0].From
	priceUSD := cycle[0].Pool.PriceUSD(base)
	decimals := cycle[0].Pool.TokenDecimals(base)

	amount := pricing.RawFromUSD(inputUSD, priceUSD, decimals)
	if amount == nil {
		return domain.Opportunity{}, false
	}
	input := new(big.Int).Set(amount)

	legs := make([]domain.Leg, 0, len(cycle))
	path := make([]string, 0, len(cycle)+1)
	path = append(path, base)

	for _, e := range cycle {
		out, slip, err := swapOut(e, amount)
		if err != nil || out.Sign() <= 0 {
			return domain.Opportunity{}, false
		}
		legs = append(legs, domain.Leg{
			Pool:        e.Pool,
			TokenIn:     e.From,
			TokenOut:    e.To,
			AmountIn:    new(big.Int).Set(amount),
			AmountOut:   new(big.Int).Set(out),
			SlippagePct: slip,
		})
		path = append(path, e.To)
		amount = out
	}

	outputUSD := pricing.USDFromRaw(amount, priceUSD, decimals)
	inUSD := pricing.USDFromRaw(input, priceUSD, decimals)
	gasUSD := gasCost(len(cycle))
	net := outputUSD - inUSD - gasUSD

	roi := 0.0
	if inUSD > 0 {
		roi = net / inUSD * 100
	}

	return domain.Opportunity{
		ID:           uuid.NewString(),
		Kind:         kind,
		Path:         path,
		Legs:         legs,
		InputUSD:     inUSD,
		OutputUSD:    outputUSD,
		GasCostUSD:   gasUSD,
		NetProfitUSD: net,
		ROIPct:       roi,
		DetectedAt:   time.Now(),
	}, true
}

func (s *Searcher) probeNotional() float64 {
	ns := s.cfg.TestNotionalsUSD
	return ns[len(ns)/2]
}

// betterOpportunity orders by net profit, then ROI, then fewer hops.
func betterOpportunity(a, b domain.Opportunity) bool {
	if a.NetProfitUSD != b.NetProfitUSD {
		return a.NetProfitUSD > b.NetProfitUSD
	}
	if a.ROIPct != b.ROIPct {
		return a.ROIPct > b.ROIPct
	}
	return len(a.Legs) < len(b.Legs)
}

func sortOpportunities(opps []domain.Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		return betterOpportunity(opps[i], opps[j])
	})
}

func usesPool(edges []Edge, e Edge) bool {
	for _, prev := range edges {
		if prev.Pool.PoolAddress == e.Pool.PoolAddress && prev.Pool.DexID == e.Pool.DexID {
			return true
		}
	}
	return false
}

// cycleKey is rotation-invariant: the same loop entered from different base
// tokens maps to one key, so it is detected and executed once. The rotation
// starts at the smallest edge key. Reversed direction is a different trade
// and keeps a different key.
func cycleKey(cycle []Edge) string {
	start := 0
	for i := 1; i < len(cycle); i++ {
		if cycle[i].Key() < cycle[start].Key() {
			start = i
		}
	}
	key := ""
	for i := range cycle {
		key += cycle[(start+i)%len(cycle)].Key() + "|"
	}
	return key
}
