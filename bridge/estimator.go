package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/omni/bridge-core/oracle"
)

// Quote is an advisory fee breakdown for a transfer. No reservation is taken
// against it, fees are recomputed at initiation time.
type Quote struct {
	Route             Route           `json:"route"`
	Amount            decimal.Decimal `json:"amount"`
	ProtocolFee       decimal.Decimal `json:"protocol_fee"`
	NetworkFee        decimal.Decimal `json:"network_fee"`
	TotalFee          decimal.Decimal `json:"total_fee"`
	AmountReceived    decimal.Decimal `json:"amount_received"`
	EstimatedDuration uint            `json:"estimated_duration_minutes"`
	// Degraded is set when either oracle value came from a stale cache or a
	// configured fallback constant instead of a live feed.
	Degraded bool `json:"degraded"`
}

type FeeEstimator struct {
	routes  *Routes
	price   *oracle.PriceOracle
	gas     *oracle.GasOracle
	feeRate decimal.Decimal
}

func NewFeeEstimator(routes *Routes, price *oracle.PriceOracle, gas *oracle.GasOracle, feeRate decimal.Decimal) *FeeEstimator {
	return &FeeEstimator{
		routes:  routes,
		price:   price,
		gas:     gas,
		feeRate: feeRate,
	}
}

// Estimate computes a deterministic quote for the given route and amount.
// The two oracle lookups are independent and issued concurrently. An oracle
// outage never fails the quote, it only marks it degraded.
func (e *FeeEstimator) Estimate(ctx context.Context, route Route, amount decimal.Decimal) (*Quote, error) {
	routeCfg, ok := e.routes.Lookup(route)
	if !ok {
		return nil, fmt.Errorf("%s/%s -> %s/%s: %w",
			route.SourceChain, route.SourceToken, route.DestinationChain, route.DestinationToken,
			ErrUnsupportedRoute)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("amount %s: %w", amount, ErrInvalidAmount)
	}

	var (
		wg            sync.WaitGroup
		price, gas    decimal.Decimal
		priceDegraded bool
		gasDegraded   bool
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		price, priceDegraded = e.price.TokenPrice(ctx, route.SourceToken)
	}()
	go func() {
		defer wg.Done()
		gas, gasDegraded = e.gas.GasCost(ctx, route.DestinationChain)
	}()
	wg.Wait()

	if !price.IsPositive() {
		return nil, fmt.Errorf("no positive price for token %s is available", route.SourceToken)
	}

	protocolFee := amount.Mul(e.feeRate)
	// Network fee is charged in source token units, so the fiat gas cost of
	// the destination-side settlement is converted at the token price.
	networkFee := gas.Div(price)
	totalFee := protocolFee.Add(networkFee)
	received := amount.Sub(totalFee)
	if !received.IsPositive() {
		return nil, fmt.Errorf("amount %s does not cover the %s fee: %w", amount, totalFee, ErrInvalidAmount)
	}

	quote := &Quote{
		Route:             route,
		Amount:            amount,
		ProtocolFee:       protocolFee,
		NetworkFee:        networkFee,
		TotalFee:          totalFee,
		AmountReceived:    received,
		EstimatedDuration: routeCfg.EstimatedDuration,
		Degraded:          priceDegraded || gasDegraded,
	}
	ObserveQuote(quote.Degraded)
	return quote, nil
}
