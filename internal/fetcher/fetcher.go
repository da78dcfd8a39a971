// Package fetcher queries registered pools through the node access layer,
// normalizes them into pool records, prices them in USD and writes them to
// the cache. It is the only component that talks to the chain during a scan.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/sync/errgroup"

	"github.com/hexlane/dexarb/internal/config"
	"github.com/hexlane/dexarb/internal/domain"
	"github.com/hexlane/dexarb/internal/pricing"
	"github.com/hexlane/dexarb/internal/rpc"
)

// Minimal contract fragments, enough to pack the calls the fetcher makes.
const (
	pairABIJSON = `[{"name":"getReserves","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]}]`

	erc20ABIJSON = `[{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}]`

	quoterABIJSON = `[{"name":"quoteExactInputSingle","type":"function","stateMutability":"nonpayable","inputs":[{"name":"params","type":"tuple","components":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"amountIn","type":"uint256"},{"name":"fee","type":"uint24"},{"name":"sqrtPriceLimitX96","type":"uint160"}]}],"outputs":[{"name":"amountOut","type":"uint256"},{"name":"sqrtPriceX96After","type":"uint160"},{"name":"initializedTicksCrossed","type":"uint32"},{"name":"gasEstimate","type":"uint256"}]}]`
)

// NodeCaller is the node access surface the fetcher needs. *rpc.Pool
// satisfies it; tests inject fakes.
type NodeCaller interface {
	Call(ctx context.Context, result any, method string, args ...any) error
	BatchCall(ctx context.Context, batch []rpc.BatchElem) error
}

// Fetcher refreshes pool records and reference prices.
type Fetcher struct {
	node     NodeCaller
	cache    domain.PoolCache
	registry *Registry
	prices   *PriceSource
	cfg      config.FetcherConfig
	logger   *slog.Logger

	pairABI   abi.ABI
	erc20ABI  abi.ABI
	quoterABI abi.ABI
}

// New creates a Fetcher. prices may be nil when no external price source is
// configured; stable anchors and on-chain derivation still apply.
func New(node NodeCaller, cache domain.PoolCache, registry *Registry, prices *PriceSource, cfg config.FetcherConfig, logger *slog.Logger) (*Fetcher, error) {
	pair, err := abi.JSON(strings.NewReader(pairABIJSON))
	if err != nil {
		return nil, fmt.Errorf("fetcher: parse pair abi: %w", err)
	}
	erc20, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("fetcher: parse erc20 abi: %w", err)
	}
	quoter, err := abi.JSON(strings.NewReader(quoterABIJSON))
	if err != nil {
		return nil, fmt.Errorf("fetcher: parse quoter abi: %w", err)
	}

	return &Fetcher{
		node:      node,
		cache:     cache,
		registry:  registry,
		prices:    prices,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "fetcher")),
		pairABI:   pair,
		erc20ABI:  erc20,
		quoterABI: quoter,
	}, nil
}

// FetchAll refreshes every registered pool: V2 reserves and V3 balances in
// one coalesced batch, V3 reference quotes fanned out under a concurrency
// limit, then USD pricing, the TVL filter and cache writes. Pools that fail
// are skipped this cycle and retried on the next one.
func (f *Fetcher) FetchAll(ctx context.Context) ([]domain.PoolRecord, error) {
	started := time.Now()

	records, err := f.readPools(ctx)
	if err != nil {
		return nil, err
	}

	usd := f.referencePrices(ctx, records)
	f.applyPrices(records, usd)

	kept := records[:0]
	for _, rec := range records {
		if rec.TVLUSD < f.cfg.MinTVLUSD {
			f.logger.Debug("pool below tvl floor",
				slog.String("pool", rec.CacheKey()),
				slog.Float64("tvl_usd", rec.TVLUSD),
			)
			continue
		}
		kept = append(kept, rec)
	}

	for _, rec := range kept {
		if err := f.store(ctx, rec); err != nil {
			f.logger.Warn("cache write failed",
				slog.String("pool", rec.CacheKey()),
				slog.String("error", err.Error()),
			)
		}
	}

	f.logger.Info("fetch complete",
		slog.Int("pools", len(kept)),
		slog.Int("skipped", len(f.registry.Pools)-len(kept)),
		slog.Duration("elapsed", time.Since(started)),
	)
	return kept, nil
}

// poolRead tracks one pool through the fetch stages.
type poolRead struct {
	entry    PoolEntry
	dex      DexEntry
	record   domain.PoolRecord
	reserves *rpc.BatchElem
	bal0     *rpc.BatchElem
	bal1     *rpc.BatchElem
	failed   bool
}

// readPools performs the on-chain reads and returns one record per
// responsive pool.
func (f *Fetcher) readPools(ctx context.Context) ([]domain.PoolRecord, error) {
	var reads []*poolRead

	for _, p := range f.registry.Pools {
		dex, _ := f.registry.Dex(p.Dex)
		tok0, _ := f.registry.Token(p.Token0)
		tok1, _ := f.registry.Token(p.Token1)

		pr := &poolRead{
			entry: p,
			dex:   dex,
			record: domain.PoolRecord{
				DexID:            p.Dex,
				PoolAddress:      common.HexToAddress(p.Address),
				Kind:             f.registry.DexKind(p.Dex),
				Token0:           p.Token0,
				Token1:           p.Token1,
				Token0Address:    common.HexToAddress(tok0.Address),
				Token1Address:    common.HexToAddress(tok1.Address),
				Decimals0:        tok0.Decimals,
				Decimals1:        tok1.Decimals,
				FeeBps:           dex.FeeBps,
				FeeHundredthsBip: p.FeeTier,
				FetchedAt:        time.Now(),
			},
		}
		reads = append(reads, pr)
	}

	// Capacity is exact so &batch[i] stays valid while the batch grows.
	batch := make([]rpc.BatchElem, 0, len(reads)*2)
	addElem := func(to common.Address, data []byte) *rpc.BatchElem {
		batch = append(batch, rpc.BatchElem{
			Method: "eth_call",
			Args: []any{
				map[string]any{"to": to.Hex(), "data": hexutil.Encode(data)},
				"latest",
			},
			Result: new(hexutil.Bytes),
		})
		return &batch[len(batch)-1]
	}

	for _, pr := range reads {
		switch pr.record.Kind {
		case domain.AMMKindV2:
			data, err := f.pairABI.Pack("getReserves")
			if err != nil {
				return nil, fmt.Errorf("fetcher: pack getReserves: %w", err)
			}
			pr.reserves = addElem(pr.record.PoolAddress, data)
		case domain.AMMKindV3:
			d0, err := f.erc20ABI.Pack("balanceOf", pr.record.PoolAddress)
			if err != nil {
				return nil, fmt.Errorf("fetcher: pack balanceOf: %w", err)
			}
			pr.bal0 = addElem(pr.record.Token0Address, d0)
			pr.bal1 = addElem(pr.record.Token1Address, d0)
		}
	}

	if len(batch) > 0 {
		if err := f.node.BatchCall(ctx, batch); err != nil {
			return nil, fmt.Errorf("fetcher: batch read: %w", err)
		}
	}

	// Decode batch results; a failed element only drops its own pool.
	for _, pr := range reads {
		switch pr.record.Kind {
		case domain.AMMKindV2:
			r0, r1, err := f.decodeReserves(pr.reserves)
			if err != nil {
				pr.failed = true
				f.logger.Warn("pool excluded this cycle",
					slog.String("pool", pr.record.CacheKey()),
					slog.String("error", err.Error()),
				)
				continue
			}
			pr.record.Reserve0 = r0
			pr.record.Reserve1 = r1
			pr.record.Quote0to1 = f.v2ReferenceQuote(pr.record, true)
			pr.record.Quote1to0 = f.v2ReferenceQuote(pr.record, false)
		case domain.AMMKindV3:
			b0, err0 := decodeUint256(f.erc20ABI, "balanceOf", pr.bal0)
			b1, err1 := decodeUint256(f.erc20ABI, "balanceOf", pr.bal1)
			if err0 != nil || err1 != nil {
				pr.failed = true
				continue
			}
			pr.record.Reserve0 = b0
			pr.record.Reserve1 = b1
		}
	}

	// Second stage: V3 reference quotes, fanned out with a bounded limit.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)
	var mu sync.Mutex

	for _, pr := range reads {
		if pr.failed || pr.record.Kind != domain.AMMKindV3 {
			continue
		}
		pr := pr
		g.Go(func() error {
			q01, err := f.quoteV3(gctx, pr, true)
			if err != nil {
				mu.Lock()
				pr.failed = true
				mu.Unlock()
				f.logger.Warn("pool excluded this cycle",
					slog.String("pool", pr.record.CacheKey()),
					slog.String("error", err.Error()),
				)
				return nil
			}
			q10, err := f.quoteV3(gctx, pr, false)
			if err != nil {
				mu.Lock()
				pr.failed = true
				mu.Unlock()
				return nil
			}
			mu.Lock()
			pr.record.Quote0to1 = q01
			pr.record.Quote1to0 = q10
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetcher: quote fan-out: %w", err)
	}

	var out []domain.PoolRecord
	for _, pr := range reads {
		if !pr.failed {
			out = append(out, pr.record)
		}
	}
	return out, nil
}

// v2ReferenceQuote computes the quote for one whole token from reserves.
func (f *Fetcher) v2ReferenceQuote(rec domain.PoolRecord, zeroToOne bool) *big.Int {
	var in *big.Int
	var rin, rout *big.Int
	if zeroToOne {
		in = pricing.WholeToken(rec.Decimals0)
		rin, rout = rec.Reserve0, rec.Reserve1
	} else {
		in = pricing.WholeToken(rec.Decimals1)
		rin, rout = rec.Reserve1, rec.Reserve0
	}
	out, err := pricing.V2AmountOut(in, rin, rout, rec.FeeBps)
	if err != nil {
		return nil
	}
	return out
}

func (f *Fetcher) decodeReserves(elem *rpc.BatchElem) (*big.Int, *big.Int, error) {
	if elem.Error != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrQuoteUnavailable, elem.Error)
	}
	raw := *(elem.Result.(*hexutil.Bytes))
	vals, err := f.pairABI.Unpack("getReserves", raw)
	if err != nil || len(vals) < 2 {
		return nil, nil, fmt.Errorf("%w: decode reserves: %v", domain.ErrQuoteUnavailable, err)
	}
	r0, ok0 := vals[0].(*big.Int)
	r1, ok1 := vals[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, fmt.Errorf("%w: unexpected reserve types", domain.ErrQuoteUnavailable)
	}
	return r0, r1, nil
}

func decodeUint256(contractABI abi.ABI, method string, elem *rpc.BatchElem) (*big.Int, error) {
	if elem.Error != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrQuoteUnavailable, elem.Error)
	}
	raw := *(elem.Result.(*hexutil.Bytes))
	vals, err := contractABI.Unpack(method, raw)
	if err != nil || len(vals) == 0 {
		return nil, fmt.Errorf("%w: decode %s: %v", domain.ErrQuoteUnavailable, method, err)
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected %s type", domain.ErrQuoteUnavailable, method)
	}
	return v, nil
}

// quoterParams mirrors the QuoterV2 quoteExactInputSingle tuple.
type quoterParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	AmountIn          *big.Int
	Fee               *big.Int
	SqrtPriceLimitX96 *big.Int
}

// quoteV3 asks the dex quoter for the output of one whole input token via
// eth_call.
func (f *Fetcher) quoteV3(ctx context.Context, pr *poolRead, zeroToOne bool) (*big.Int, error) {
	params := quoterParams{
		TokenIn:           pr.record.Token0Address,
		TokenOut:          pr.record.Token1Address,
		AmountIn:          pricing.WholeToken(pr.record.Decimals0),
		Fee:               big.NewInt(pr.record.FeeHundredthsBip),
		SqrtPriceLimitX96: big.NewInt(0),
	}
	if !zeroToOne {
		params.TokenIn = pr.record.Token1Address
		params.TokenOut = pr.record.Token0Address
		params.AmountIn = pricing.WholeToken(pr.record.Decimals1)
	}

	data, err := f.quoterABI.Pack("quoteExactInputSingle", params)
	if err != nil {
		return nil, fmt.Errorf("fetcher: pack quote: %w", err)
	}

	var raw hexutil.Bytes
	call := map[string]any{
		"to":   f.registryQuoter(pr.dex),
		"data": hexutil.Encode(data),
	}
	if err := f.node.Call(ctx, &raw, "eth_call", call, "latest"); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrQuoteUnavailable, err)
	}

	vals, err := f.quoterABI.Unpack("quoteExactInputSingle", raw)
	if err != nil || len(vals) == 0 {
		return nil, fmt.Errorf("%w: decode quote: %v", domain.ErrQuoteUnavailable, err)
	}
	out, ok := vals[0].(*big.Int)
	if !ok || out.Sign() <= 0 {
		return nil, domain.ErrQuoteUnavailable
	}
	return out, nil
}

func (f *Fetcher) registryQuoter(dex DexEntry) string {
	return common.HexToAddress(dex.Quoter).Hex()
}

// referencePrices assembles USD prices: stable anchors first, then the
// external source for tokens with a known id, then derivation from on-chain
// quotes against already-priced tokens.
func (f *Fetcher) referencePrices(ctx context.Context, records []domain.PoolRecord) map[string]float64 {
	usd := make(map[string]float64)
	for sym, price := range stableAnchors {
		if _, ok := f.registry.Token(sym); ok {
			usd[sym] = price
		}
	}

	if f.prices != nil {
		var ids []string
		idToSym := make(map[string]string)
		for _, tok := range f.registry.Tokens {
			if tok.CoingeckoID != "" && usd[tok.Symbol] == 0 {
				ids = append(ids, tok.CoingeckoID)
				idToSym[tok.CoingeckoID] = tok.Symbol
			}
		}
		fetched, err := f.prices.FetchUSD(ctx, ids)
		if err != nil {
			f.logger.Warn("external price source failed, relying on derivation",
				slog.String("error", err.Error()),
			)
		}
		for id, price := range fetched {
			usd[idToSym[id]] = price
		}
	}

	// Derive remaining prices from quotes against priced tokens. Two passes
	// cover chains like UNKNOWN->WETH->USDC.
	for pass := 0; pass < 2; pass++ {
		for _, rec := range records {
			derivePrice(usd, rec)
		}
	}
	return usd
}

// derivePrice fills in the missing side of a pair when the other side has a
// USD price and the pool has a usable reference quote.
func derivePrice(usd map[string]float64, rec domain.PoolRecord) {
	p0, ok0 := usd[rec.Token0]
	p1, ok1 := usd[rec.Token1]
	if ok0 == ok1 {
		return // both known or both unknown
	}

	if ok0 && rec.Quote1to0 != nil {
		// One whole token1 yields quote in token0 units.
		out := pricing.USDFromRaw(rec.Quote1to0, p0, rec.Decimals0)
		if out > 0 {
			usd[rec.Token1] = out
		}
	} else if ok1 && rec.Quote0to1 != nil {
		out := pricing.USDFromRaw(rec.Quote0to1, p1, rec.Decimals1)
		if out > 0 {
			usd[rec.Token0] = out
		}
	}
}

// applyPrices stamps USD prices and TVL onto the records.
func (f *Fetcher) applyPrices(records []domain.PoolRecord, usd map[string]float64) {
	for i := range records {
		rec := &records[i]
		rec.Price0USD = usd[rec.Token0]
		rec.Price1USD = usd[rec.Token1]

		var tvl float64
		if rec.Reserve0 != nil {
			tvl += pricing.USDFromRaw(rec.Reserve0, rec.Price0USD, rec.Decimals0)
		}
		if rec.Reserve1 != nil {
			tvl += pricing.USDFromRaw(rec.Reserve1, rec.Price1USD, rec.Decimals1)
		}
		rec.TVLUSD = tvl
	}
}

// store writes the record and its TVL into their namespaces.
func (f *Fetcher) store(ctx context.Context, rec domain.PoolRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("fetcher: marshal record: %w", err)
	}
	if err := f.cache.Put(ctx, domain.NamespacePairPrice, rec.CacheKey(), data); err != nil {
		return err
	}

	tvl, err := json.Marshal(rec.TVLUSD)
	if err != nil {
		return fmt.Errorf("fetcher: marshal tvl: %w", err)
	}
	return f.cache.Put(ctx, domain.NamespaceTVL, rec.CacheKey(), tvl)
}

// CachedRecords loads every live pool record from the cache for a scan.
func (f *Fetcher) CachedRecords(ctx context.Context) ([]domain.PoolRecord, error) {
	keys, err := f.cache.Keys(ctx, domain.NamespacePairPrice)
	if err != nil {
		return nil, fmt.Errorf("fetcher: list cached pools: %w", err)
	}

	var out []domain.PoolRecord
	for _, key := range keys {
		data, err := f.cache.Get(ctx, domain.NamespacePairPrice, key)
		if errors.Is(err, domain.ErrCacheMiss) {
			continue // expired between Keys and Get
		}
		if err != nil {
			return nil, err
		}
		var rec domain.PoolRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			f.logger.Warn("dropping undecodable cache entry", slog.String("key", key))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
