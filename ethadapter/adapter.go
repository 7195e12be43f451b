// Package ethadapter implements the bridge protocol adapter for EVM-style
// chains. The relay network itself is an external service reached over HTTP,
// confirmation counts are derived directly from the chains through JSON-RPC.
package ethadapter

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/omni/bridge-core/bridge"
	"github.com/omni/bridge-core/entity"
	"github.com/omni/bridge-core/ethclient"
	"github.com/omni/bridge-core/logging"
)

type Adapter struct {
	logger  logging.Logger
	relayer *RelayerClient
	clients map[string]ethclient.Client
}

func NewAdapter(logger logging.Logger, relayer *RelayerClient, clients map[string]ethclient.Client) *Adapter {
	return &Adapter{
		logger:  logger,
		relayer: relayer,
		clients: clients,
	}
}

func (a *Adapter) Initiate(ctx context.Context, tx *entity.BridgeTransaction) error {
	return a.relayer.submitTransfer(ctx, tx)
}

func (a *Adapter) QueryStatus(ctx context.Context, tx *entity.BridgeTransaction) (*bridge.TransferStatus, error) {
	transfer, err := a.relayer.getTransfer(ctx, tx.ID)
	if err != nil {
		return nil, err
	}

	st := &bridge.TransferStatus{
		Phase: bridge.PhaseUnknown,
		Error: transfer.Error,
	}
	switch transfer.Phase {
	case relayerPhaseQueued:
	case relayerPhaseConfirming:
		st.Phase = bridge.PhaseConfirming
	case relayerPhaseCompleted:
		st.Phase = bridge.PhaseCompleted
	case relayerPhaseFailed:
		st.Phase = bridge.PhaseFailed
	default:
		return nil, fmt.Errorf("relayer returned unknown transfer phase %q", transfer.Phase)
	}

	if transfer.SourceTxHash != "" {
		st.SourceTxRef = &transfer.SourceTxHash
		st.SourceConfirmations, err = a.confirmations(ctx, tx.SourceChain, transfer.SourceTxHash)
		if err != nil {
			return nil, fmt.Errorf("can't count source confirmations: %w", err)
		}
	}
	if transfer.DestinationTxHash != "" {
		st.DestinationTxRef = &transfer.DestinationTxHash
		st.DestinationConfirmations, err = a.confirmations(ctx, tx.DestinationChain, transfer.DestinationTxHash)
		if err != nil {
			return nil, fmt.Errorf("can't count destination confirmations: %w", err)
		}
	}
	return st, nil
}

// confirmations counts ledger acknowledgments of a mined transaction as the
// distance from its inclusion block to the current head, inclusive. A
// not-yet-mined transaction has zero confirmations.
func (a *Adapter) confirmations(ctx context.Context, chain, txHash string) (uint, error) {
	client, ok := a.clients[chain]
	if !ok {
		return 0, fmt.Errorf("no rpc client configured for chain %q", chain)
	}
	receipt, err := client.TransactionReceiptByHash(ctx, common.HexToHash(txHash))
	if err != nil {
		if err == ethereum.NotFound {
			return 0, nil
		}
		return 0, err
	}
	head, err := client.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	mined := uint(receipt.BlockNumber.Uint64())
	if head < mined {
		return 0, nil
	}
	return head - mined + 1, nil
}
