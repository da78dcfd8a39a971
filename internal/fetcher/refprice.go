package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// stableAnchors are tokens pegged to one USD; their price never needs an
// external source.
var stableAnchors = map[string]float64{
	"USDC":   1.0,
	"USDC.E": 1.0,
	"USDT":   1.0,
	"DAI":    1.0,
}

// PriceSource fetches USD reference prices from a simple-price HTTP endpoint
// (CoinGecko-compatible: ?ids=a,b&vs_currencies=usd).
type PriceSource struct {
	baseURL    string
	httpClient *http.Client
}

// NewPriceSource creates a price source for the given endpoint.
func NewPriceSource(baseURL string, timeout time.Duration) *PriceSource {
	return &PriceSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchUSD returns USD prices keyed by the given ids. Missing ids are
// omitted, not errors.
func (s *PriceSource) FetchUSD(ctx context.Context, ids []string) (map[string]float64, error) {
	if len(ids) == 0 {
		return map[string]float64{}, nil
	}

	url := fmt.Sprintf("%s?ids=%s&vs_currencies=usd", s.baseURL, strings.Join(ids, ","))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetcher: price request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetcher: price request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetcher: price source status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var raw map[string]struct {
		USD float64 `json:"usd"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("fetcher: decode prices: %w", err)
	}

	out := make(map[string]float64, len(raw))
	for id, v := range raw {
		if v.USD > 0 {
			out[id] = v.USD
		}
	}
	return out, nil
}
