// Package graph builds a directed multigraph of tokens from cached pool
// records and searches it for profitable cycles.
package graph

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/hexlane/dexarb/internal/domain"
	"github.com/hexlane/dexarb/internal/pricing"
)

// Edge is one token conversion through one pool in one direction. A pair
// traded on several DEXes contributes parallel edges.
type Edge struct {
	From string
	To   string
	Pool domain.PoolRecord
}

// Key identifies the edge by pool and direction.
func (e Edge) Key() string {
	return e.Pool.DexID + ":" + e.Pool.PoolAddress.Hex() + ":" + e.From
}

// Graph is the token multigraph for one scan. Records are read-only inside
// a scan, so the graph is never mutated after Build.
type Graph struct {
	edges  map[string][]Edge
	tokens []string
}

// Build constructs the graph from pool records, dropping pools under the
// TVL floor. Each surviving pool contributes one edge per direction.
func Build(records []domain.PoolRecord, minTVLUSD float64) *Graph {
	g := &Graph{edges: make(map[string][]Edge)}
	seen := make(map[string]bool)

	for _, rec := range records {
		if rec.TVLUSD < minTVLUSD {
			continue
		}
		g.edges[rec.Token0] = append(g.edges[rec.Token0], Edge{From: rec.Token0, To: rec.Token1, Pool: rec})
		g.edges[rec.Token1] = append(g.edges[rec.Token1], Edge{From: rec.Token1, To: rec.Token0, Pool: rec})
		for _, tok := range []string{rec.Token0, rec.Token1} {
			if !seen[tok] {
				seen[tok] = true
				g.tokens = append(g.tokens, tok)
			}
		}
	}
	sort.Strings(g.tokens)
	return g
}

// Tokens returns the node set in deterministic order.
func (g *Graph) Tokens() []string {
	return g.tokens
}

// EdgesFrom returns the outgoing edges of a token.
func (g *Graph) EdgesFrom(token string) []Edge {
	return g.edges[token]
}

// EdgeCount returns the number of directed edges.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, es := range g.edges {
		n += len(es)
	}
	return n
}

// swapOut simulates sending amountIn of e.From through the edge's pool,
// returning the output amount and the realized slippage percentage.
func swapOut(e Edge, amountIn *big.Int) (*big.Int, float64, error) {
	rec := e.Pool
	fromIsToken0 := e.From == rec.Token0

	switch rec.Kind {
	case domain.AMMKindV2:
		rin, rout := rec.Reserve0, rec.Reserve1
		decIn, decOut := rec.Decimals0, rec.Decimals1
		if !fromIsToken0 {
			rin, rout = rec.Reserve1, rec.Reserve0
			decIn, decOut = rec.Decimals1, rec.Decimals0
		}
		out, err := pricing.V2AmountOut(amountIn, rin, rout, rec.FeeBps)
		if err != nil {
			return nil, 0, fmt.Errorf("graph: %s: %w", e.Key(), err)
		}
		spot := pricing.V2SpotPrice(rin, rout, decIn, decOut)
		slip := pricing.V2Slippage(amountIn, out, spot, decIn, decOut)
		return out, slip * 100, nil

	case domain.AMMKindV3:
		refIn := pricing.WholeToken(rec.Decimals0)
		refQuote := rec.Quote0to1
		decIn, decOut := rec.Decimals0, rec.Decimals1
		if !fromIsToken0 {
			refIn = pricing.WholeToken(rec.Decimals1)
			refQuote = rec.Quote1to0
			decIn, decOut = rec.Decimals1, rec.Decimals0
		}
		out, err := pricing.V3AmountOut(amountIn, refIn, refQuote, rec.FeeHundredthsBip)
		if err != nil {
			return nil, 0, fmt.Errorf("graph: %s: %w", e.Key(), err)
		}
		spot := pricing.V3SpotPrice(refIn, refQuote, decIn, decOut)
		slip := pricing.V2Slippage(amountIn, out, spot, decIn, decOut)
		return out, slip * 100, nil

	default:
		return nil, 0, fmt.Errorf("graph: %s: unknown amm kind %q", e.Key(), rec.Kind)
	}
}
