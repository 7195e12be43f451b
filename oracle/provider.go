package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// PriceProvider returns the current fiat value of one unit of the token.
type PriceProvider interface {
	TokenPrice(ctx context.Context, token string) (decimal.Decimal, error)
}

// GasProvider returns the current fiat cost of a settlement transaction on
// the given chain.
type GasProvider interface {
	GasCost(ctx context.Context, chain string) (decimal.Decimal, error)
}

type httpPriceProvider struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

func NewHTTPPriceProvider(rawURL string, timeout time.Duration) PriceProvider {
	return &httpPriceProvider{
		url:     rawURL,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *httpPriceProvider) TokenPrice(ctx context.Context, token string) (decimal.Decimal, error) {
	defer ObserveDuration(p.url, "token_price")()

	res := struct {
		Symbol   string          `json:"symbol"`
		PriceUSD decimal.Decimal `json:"price_usd"`
	}{}
	err := getJSON(ctx, p.client, p.timeout, p.url, url.Values{"symbol": {token}}, &res)
	ObserveError(p.url, "token_price", err)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("can't fetch token price: %w", err)
	}
	if !res.PriceUSD.IsPositive() {
		err = fmt.Errorf("price feed returned non-positive price %s for %s", res.PriceUSD, token)
		ObserveError(p.url, "token_price", err)
		return decimal.Decimal{}, err
	}
	return res.PriceUSD, nil
}

type httpGasProvider struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

func NewHTTPGasProvider(rawURL string, timeout time.Duration) GasProvider {
	return &httpGasProvider{
		url:     rawURL,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *httpGasProvider) GasCost(ctx context.Context, chain string) (decimal.Decimal, error) {
	defer ObserveDuration(p.url, "gas_cost")()

	res := struct {
		Chain      string          `json:"chain"`
		GasCostUSD decimal.Decimal `json:"gas_cost_usd"`
	}{}
	err := getJSON(ctx, p.client, p.timeout, p.url, url.Values{"chain": {chain}}, &res)
	ObserveError(p.url, "gas_cost", err)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("can't fetch gas cost: %w", err)
	}
	if res.GasCostUSD.IsNegative() {
		err = fmt.Errorf("gas feed returned negative cost %s for %s", res.GasCostUSD, chain)
		ObserveError(p.url, "gas_cost", err)
		return decimal.Decimal{}, err
	}
	return res.GasCostUSD, nil
}

func getJSON(ctx context.Context, client *http.Client, timeout time.Duration, rawURL string, query url.Values, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("can't build request: %w", err)
	}
	req.URL.RawQuery = query.Encode()
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("can't send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected response status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("can't decode response: %w", err)
	}
	return nil
}
