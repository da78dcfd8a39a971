package fetcher

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hexlane/dexarb/internal/domain"
)

// TokenEntry describes one token in the registry file.
type TokenEntry struct {
	Symbol      string `json:"symbol"`
	Address     string `json:"address"`
	Decimals    uint8  `json:"decimals"`
	CoingeckoID string `json:"coingecko_id,omitempty"`
}

// DexEntry describes one exchange in the registry file.
type DexEntry struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"` // "v2" or "v3"
	Router string `json:"router"`
	Quoter string `json:"quoter,omitempty"`
	FeeBps int64  `json:"fee_bps,omitempty"`
}

// PoolEntry describes one pool in the registry file. FeeTier is the V3 fee
// in hundredths of a bip and ignored for V2 pools.
type PoolEntry struct {
	Dex     string `json:"dex"`
	Token0  string `json:"token0"`
	Token1  string `json:"token1"`
	Address string `json:"address"`
	FeeTier int64  `json:"fee_tier,omitempty"`
}

// Registry is the externally supplied token/DEX/pool universe the fetcher
// operates on.
type Registry struct {
	Tokens []TokenEntry `json:"tokens"`
	Dexes  []DexEntry   `json:"dexes"`
	Pools  []PoolEntry  `json:"pools"`

	tokensBySymbol map[string]TokenEntry
	dexesByID      map[string]DexEntry
}

// LoadRegistry reads and validates a registry JSON file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fetcher: read registry: %w", err)
	}

	var reg Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("fetcher: parse registry: %w", err)
	}
	if err := reg.index(); err != nil {
		return nil, fmt.Errorf("fetcher: registry: %w", err)
	}
	return &reg, nil
}

// index builds lookup maps and validates cross references.
func (r *Registry) index() error {
	r.tokensBySymbol = make(map[string]TokenEntry, len(r.Tokens))
	for _, tok := range r.Tokens {
		if tok.Symbol == "" {
			return fmt.Errorf("token with empty symbol")
		}
		if !common.IsHexAddress(tok.Address) {
			return fmt.Errorf("token %s: bad address %q", tok.Symbol, tok.Address)
		}
		r.tokensBySymbol[tok.Symbol] = tok
	}

	r.dexesByID = make(map[string]DexEntry, len(r.Dexes))
	for _, dex := range r.Dexes {
		kind := strings.ToLower(dex.Kind)
		if kind != string(domain.AMMKindV2) && kind != string(domain.AMMKindV3) {
			return fmt.Errorf("dex %s: unknown kind %q", dex.ID, dex.Kind)
		}
		if kind == string(domain.AMMKindV3) && !common.IsHexAddress(dex.Quoter) {
			return fmt.Errorf("dex %s: v3 requires a quoter address", dex.ID)
		}
		r.dexesByID[dex.ID] = dex
	}

	for i, p := range r.Pools {
		if _, ok := r.dexesByID[p.Dex]; !ok {
			return fmt.Errorf("pool %d: unknown dex %q", i, p.Dex)
		}
		if _, ok := r.tokensBySymbol[p.Token0]; !ok {
			return fmt.Errorf("pool %d: unknown token %q", i, p.Token0)
		}
		if _, ok := r.tokensBySymbol[p.Token1]; !ok {
			return fmt.Errorf("pool %d: unknown token %q", i, p.Token1)
		}
		if !common.IsHexAddress(p.Address) {
			return fmt.Errorf("pool %d: bad address %q", i, p.Address)
		}
	}
	return nil
}

// Token looks up a token by symbol.
func (r *Registry) Token(symbol string) (TokenEntry, bool) {
	t, ok := r.tokensBySymbol[symbol]
	return t, ok
}

// Dex looks up an exchange by id.
func (r *Registry) Dex(id string) (DexEntry, bool) {
	d, ok := r.dexesByID[id]
	return d, ok
}

// DexKind returns the AMM kind for a dex id.
func (r *Registry) DexKind(id string) domain.AMMKind {
	d := r.dexesByID[id]
	return domain.AMMKind(strings.ToLower(d.Kind))
}
