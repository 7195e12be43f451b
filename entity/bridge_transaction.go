package entity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRefunded   Status = "refunded"
)

// IsTerminal tells if no further status transition can happen.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

func TerminalStatuses() []Status {
	return []Status{StatusCompleted, StatusFailed, StatusRefunded}
}

type BridgeTransaction struct {
	ID                       uuid.UUID       `db:"id"`
	SourceChain              string          `db:"source_chain"`
	DestinationChain         string          `db:"destination_chain"`
	SourceToken              string          `db:"source_token"`
	DestinationToken         string          `db:"destination_token"`
	Amount                   decimal.Decimal `db:"amount"`
	ProtocolFee              decimal.Decimal `db:"protocol_fee"`
	NetworkFee               decimal.Decimal `db:"network_fee"`
	AmountReceived           decimal.Decimal `db:"amount_received"`
	FromAddress              string          `db:"from_address"`
	ToAddress                string          `db:"to_address"`
	Status                   Status          `db:"status"`
	SourceTxRef              *string         `db:"source_tx_ref"`
	DestinationTxRef         *string         `db:"destination_tx_ref"`
	SourceConfirmations      uint            `db:"source_confirmations"`
	DestinationConfirmations uint            `db:"destination_confirmations"`
	RequiredConfirmations    uint            `db:"required_confirmations"`
	EstimatedDuration        uint            `db:"estimated_duration_minutes"`
	ActualDuration           *uint           `db:"actual_duration_minutes"`
	LastError                *string         `db:"last_error"`
	CreatedAt                *time.Time      `db:"created_at"`
	UpdatedAt                *time.Time      `db:"updated_at"`
	CompletedAt              *time.Time      `db:"completed_at"`
}

// Age reports how long ago the transaction was created.
func (tx *BridgeTransaction) Age(now time.Time) time.Duration {
	if tx.CreatedAt == nil {
		return 0
	}
	return now.Sub(*tx.CreatedAt)
}

type BridgeTransactionsFilter struct {
	FromAddress *string
	Status      *Status
	SourceChain *string
	Limit       uint
	Offset      uint
}

type BridgeTransactionsRepo interface {
	Create(ctx context.Context, tx *BridgeTransaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*BridgeTransaction, error)
	// Update persists mutable transaction fields, refusing to overwrite
	// rows that have already reached a terminal status.
	Update(ctx context.Context, tx *BridgeTransaction) error
	Find(ctx context.Context, filter *BridgeTransactionsFilter) ([]*BridgeTransaction, error)
	// FindActiveWithoutJob lists non-terminal transactions that have no
	// monitoring job row at all. A deactivated job is not a missing one:
	// its transaction stopped being monitored deliberately and waits for
	// external reconciliation.
	FindActiveWithoutJob(ctx context.Context) ([]*BridgeTransaction, error)
}
