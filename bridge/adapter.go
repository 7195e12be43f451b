package bridge

import (
	"context"

	"github.com/omni/bridge-core/entity"
)

type TransferPhase string

const (
	// PhaseUnknown means no source-chain activity has been observed yet.
	PhaseUnknown TransferPhase = "unknown"
	// PhaseConfirming means the source-chain transaction exists and is
	// collecting confirmations, the destination side is not settled yet.
	PhaseConfirming TransferPhase = "confirming"
	PhaseCompleted  TransferPhase = "completed"
	PhaseFailed     TransferPhase = "failed"
)

// TransferStatus is the protocol-level view of an in-flight transfer.
type TransferStatus struct {
	Phase                    TransferPhase
	SourceTxRef              *string
	DestinationTxRef         *string
	SourceConfirmations      uint
	DestinationConfirmations uint
	Error                    string
}

// ProtocolAdapter abstracts the cross-ledger signing and settlement
// machinery. The transaction record itself acts as the transfer handle.
type ProtocolAdapter interface {
	Initiate(ctx context.Context, tx *entity.BridgeTransaction) error
	QueryStatus(ctx context.Context, tx *entity.BridgeTransaction) (*TransferStatus, error)
}
