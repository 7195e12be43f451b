package bridge_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omni/bridge-core/bridge"
	"github.com/omni/bridge-core/entity"
)

const (
	pendingTimeout    = time.Hour
	processingTimeout = 2 * time.Hour
)

func strPtr(v string) *string {
	return &v
}

func newTx(status entity.Status, age time.Duration, now time.Time) *entity.BridgeTransaction {
	createdAt := now.Add(-age)
	return &entity.BridgeTransaction{
		Status:    status,
		CreatedAt: &createdAt,
	}
}

func TestStateMachineTransitions(t *testing.T) {
	t.Parallel()

	now := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	sm := bridge.NewStateMachine(pendingTimeout, processingTimeout)

	for _, test := range []struct {
		Name           string
		Tx             *entity.BridgeTransaction
		Status         *bridge.TransferStatus
		ExpectedStatus entity.Status
		ExpectedEval   bridge.Evaluation
		ExpectedError  *string
	}{
		{
			Name:           "pending transaction with no source activity stays pending",
			Tx:             newTx(entity.StatusPending, 10*time.Minute, now),
			Status:         &bridge.TransferStatus{Phase: bridge.PhaseUnknown},
			ExpectedStatus: entity.StatusPending,
			ExpectedEval:   bridge.Evaluation{},
		},
		{
			Name:           "pending transaction moves to processing once source ref appears",
			Tx:             newTx(entity.StatusPending, 10*time.Minute, now),
			Status:         &bridge.TransferStatus{Phase: bridge.PhaseConfirming, SourceTxRef: strPtr("0xabc"), SourceConfirmations: 3},
			ExpectedStatus: entity.StatusProcessing,
			ExpectedEval:   bridge.Evaluation{Updated: true, StatusChanged: true},
		},
		{
			Name:           "pending transaction one second before the timeout is untouched",
			Tx:             newTx(entity.StatusPending, pendingTimeout-time.Second, now),
			Status:         &bridge.TransferStatus{Phase: bridge.PhaseUnknown},
			ExpectedStatus: entity.StatusPending,
			ExpectedEval:   bridge.Evaluation{},
		},
		{
			Name:           "pending transaction one second past the timeout fails",
			Tx:             newTx(entity.StatusPending, pendingTimeout+time.Second, now),
			Status:         &bridge.TransferStatus{Phase: bridge.PhaseUnknown},
			ExpectedStatus: entity.StatusFailed,
			ExpectedEval:   bridge.Evaluation{Updated: true, StatusChanged: true},
			ExpectedError:  strPtr("timed out before confirmation"),
		},
		{
			Name:           "source ref wins over the pending timeout",
			Tx:             newTx(entity.StatusPending, pendingTimeout+time.Minute, now),
			Status:         &bridge.TransferStatus{Phase: bridge.PhaseConfirming, SourceTxRef: strPtr("0xabc")},
			ExpectedStatus: entity.StatusProcessing,
			ExpectedEval:   bridge.Evaluation{Updated: true, StatusChanged: true},
		},
		{
			Name:           "processing transaction completes",
			Tx:             newTx(entity.StatusProcessing, 25*time.Minute, now),
			Status:         &bridge.TransferStatus{Phase: bridge.PhaseCompleted, DestinationTxRef: strPtr("0xdef"), SourceConfirmations: 12, DestinationConfirmations: 12},
			ExpectedStatus: entity.StatusCompleted,
			ExpectedEval:   bridge.Evaluation{Updated: true, StatusChanged: true},
		},
		{
			Name:           "processing transaction fails with the adapter's error",
			Tx:             newTx(entity.StatusProcessing, 25*time.Minute, now),
			Status:         &bridge.TransferStatus{Phase: bridge.PhaseFailed, Error: "insufficient liquidity"},
			ExpectedStatus: entity.StatusFailed,
			ExpectedEval:   bridge.Evaluation{Updated: true, StatusChanged: true},
			ExpectedError:  strPtr("insufficient liquidity"),
		},
		{
			Name:           "processing transaction one second before the timeout is untouched",
			Tx:             newTx(entity.StatusProcessing, processingTimeout-time.Second, now),
			Status:         &bridge.TransferStatus{Phase: bridge.PhaseConfirming},
			ExpectedStatus: entity.StatusProcessing,
			ExpectedEval:   bridge.Evaluation{},
		},
		{
			Name:           "processing transaction one second past the timeout fails",
			Tx:             newTx(entity.StatusProcessing, processingTimeout+time.Second, now),
			Status:         &bridge.TransferStatus{Phase: bridge.PhaseConfirming},
			ExpectedStatus: entity.StatusFailed,
			ExpectedEval:   bridge.Evaluation{Updated: true, StatusChanged: true},
			ExpectedError:  strPtr("processing timeout"),
		},
		{
			Name:           "confirmation progress is persisted without a status change",
			Tx:             newTx(entity.StatusProcessing, 10*time.Minute, now),
			Status:         &bridge.TransferStatus{Phase: bridge.PhaseConfirming, SourceConfirmations: 7},
			ExpectedStatus: entity.StatusProcessing,
			ExpectedEval:   bridge.Evaluation{Updated: true},
		},
		{
			Name:           "completed transaction is an idempotent sink",
			Tx:             newTx(entity.StatusCompleted, 3*time.Hour, now),
			Status:         &bridge.TransferStatus{Phase: bridge.PhaseFailed, Error: "late failure"},
			ExpectedStatus: entity.StatusCompleted,
			ExpectedEval:   bridge.Evaluation{},
		},
		{
			Name:           "refunded transaction is an idempotent sink",
			Tx:             newTx(entity.StatusRefunded, 3*time.Hour, now),
			Status:         &bridge.TransferStatus{Phase: bridge.PhaseCompleted},
			ExpectedStatus: entity.StatusRefunded,
			ExpectedEval:   bridge.Evaluation{},
		},
	} {
		test := test
		t.Run(test.Name, func(t *testing.T) {
			t.Parallel()

			eval := sm.Evaluate(test.Tx, test.Status, now)
			require.Equal(t, test.ExpectedEval, eval)
			require.Equal(t, test.ExpectedStatus, test.Tx.Status)
			if test.ExpectedError != nil {
				require.NotNil(t, test.Tx.LastError)
				require.Equal(t, *test.ExpectedError, *test.Tx.LastError)
			}
		})
	}
}

func TestStateMachineCompletionFields(t *testing.T) {
	t.Parallel()

	now := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	sm := bridge.NewStateMachine(pendingTimeout, processingTimeout)

	tx := newTx(entity.StatusProcessing, 25*time.Minute, now)
	eval := sm.Evaluate(tx, &bridge.TransferStatus{
		Phase:                    bridge.PhaseCompleted,
		DestinationTxRef:         strPtr("0xdef"),
		SourceConfirmations:      12,
		DestinationConfirmations: 12,
	}, now)

	require.Equal(t, bridge.Evaluation{Updated: true, StatusChanged: true}, eval)
	require.Equal(t, entity.StatusCompleted, tx.Status)
	require.NotNil(t, tx.DestinationTxRef)
	require.Equal(t, "0xdef", *tx.DestinationTxRef)
	require.NotNil(t, tx.CompletedAt)
	require.Equal(t, now, *tx.CompletedAt)
	require.NotNil(t, tx.ActualDuration)
	require.Equal(t, uint(25), *tx.ActualDuration)
	require.EqualValues(t, 12, tx.SourceConfirmations)
	require.EqualValues(t, 12, tx.DestinationConfirmations)
}
