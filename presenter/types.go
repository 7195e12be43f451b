package presenter

import (
	"github.com/shopspring/decimal"

	"github.com/omni/bridge-core/bridge"
)

type EstimateRequest struct {
	SourceChain      string          `json:"source_chain"`
	DestinationChain string          `json:"destination_chain"`
	SourceToken      string          `json:"source_token"`
	DestinationToken string          `json:"destination_token"`
	Amount           decimal.Decimal `json:"amount"`
}

func (r *EstimateRequest) Route() bridge.Route {
	return bridge.Route{
		SourceChain:      r.SourceChain,
		DestinationChain: r.DestinationChain,
		SourceToken:      r.SourceToken,
		DestinationToken: r.DestinationToken,
	}
}

type InitiateRequest struct {
	EstimateRequest
	FromAddress string `json:"from_address"`
	ToAddress   string `json:"to_address"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
