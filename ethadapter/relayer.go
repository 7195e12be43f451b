package ethadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/omni/bridge-core/entity"
)

const (
	relayerPhaseQueued     = "queued"
	relayerPhaseConfirming = "confirming"
	relayerPhaseCompleted  = "completed"
	relayerPhaseFailed     = "failed"
)

type relayerTransfer struct {
	ID                uuid.UUID `json:"id"`
	Phase             string    `json:"phase"`
	SourceTxHash      string    `json:"source_tx_hash"`
	DestinationTxHash string    `json:"destination_tx_hash"`
	Error             string    `json:"error"`
}

type RelayerClient struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

func NewRelayerClient(url string, timeout time.Duration) *RelayerClient {
	return &RelayerClient{
		url:     url,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *RelayerClient) submitTransfer(ctx context.Context, tx *entity.BridgeTransaction) error {
	body, err := json.Marshal(struct {
		ID               uuid.UUID       `json:"id"`
		SourceChain      string          `json:"source_chain"`
		DestinationChain string          `json:"destination_chain"`
		SourceToken      string          `json:"source_token"`
		DestinationToken string          `json:"destination_token"`
		Amount           decimal.Decimal `json:"amount"`
		AmountReceived   decimal.Decimal `json:"amount_received"`
		FromAddress      string          `json:"from_address"`
		ToAddress        string          `json:"to_address"`
	}{
		tx.ID, tx.SourceChain, tx.DestinationChain, tx.SourceToken, tx.DestinationToken,
		tx.Amount, tx.AmountReceived, tx.FromAddress, tx.ToAddress,
	})
	if err != nil {
		return fmt.Errorf("can't marshal transfer request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/transfers", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("can't build relayer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("can't submit transfer to relayer: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("relayer rejected transfer with status %d", resp.StatusCode)
	}
	return nil
}

func (c *RelayerClient) getTransfer(ctx context.Context, id uuid.UUID) (*relayerTransfer, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/transfers/%s", c.url, id), nil)
	if err != nil {
		return nil, fmt.Errorf("can't build relayer request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("can't query transfer status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relayer returned status %d", resp.StatusCode)
	}
	transfer := new(relayerTransfer)
	if err := json.NewDecoder(resp.Body).Decode(transfer); err != nil {
		return nil, fmt.Errorf("can't decode transfer status: %w", err)
	}
	return transfer, nil
}
