package bridge

import (
	"time"

	"github.com/omni/bridge-core/entity"
)

const (
	errPendingTimeout    = "timed out before confirmation"
	errProcessingTimeout = "processing timeout"
)

// StateMachine holds the pure transition logic of the transfer lifecycle.
// Given the persisted record, the adapter's view and the current time it
// decides the next status and the field updates to persist. It never touches
// storage itself.
type StateMachine struct {
	pendingTimeout    time.Duration
	processingTimeout time.Duration
}

func NewStateMachine(pendingTimeout, processingTimeout time.Duration) *StateMachine {
	return &StateMachine{
		pendingTimeout:    pendingTimeout,
		processingTimeout: processingTimeout,
	}
}

// Evaluation reports what the state machine decided for a single check.
type Evaluation struct {
	// Updated is set when any persisted transaction field changed.
	Updated bool
	// StatusChanged is set when the transaction moved to a new status.
	StatusChanged bool
}

// Evaluate applies the transition table to the given transaction in place.
// Statuses only ever move forward, terminal statuses are idempotent sinks.
// Age is always measured from the transaction's creation time, not from the
// previous check.
func (sm *StateMachine) Evaluate(tx *entity.BridgeTransaction, st *TransferStatus, now time.Time) Evaluation {
	if tx.Status.IsTerminal() {
		return Evaluation{}
	}
	switch tx.Status {
	case entity.StatusPending:
		return sm.evaluatePending(tx, st, now)
	case entity.StatusProcessing:
		return sm.evaluateProcessing(tx, st, now)
	}
	return Evaluation{}
}

func (sm *StateMachine) evaluatePending(tx *entity.BridgeTransaction, st *TransferStatus, now time.Time) Evaluation {
	if st.SourceTxRef != nil {
		tx.Status = entity.StatusProcessing
		tx.SourceTxRef = st.SourceTxRef
		tx.SourceConfirmations = st.SourceConfirmations
		return Evaluation{Updated: true, StatusChanged: true}
	}
	if tx.Age(now) > sm.pendingTimeout {
		return fail(tx, errPendingTimeout)
	}
	return Evaluation{}
}

func (sm *StateMachine) evaluateProcessing(tx *entity.BridgeTransaction, st *TransferStatus, now time.Time) Evaluation {
	switch st.Phase {
	case PhaseCompleted:
		tx.Status = entity.StatusCompleted
		tx.DestinationTxRef = st.DestinationTxRef
		tx.SourceConfirmations = st.SourceConfirmations
		tx.DestinationConfirmations = st.DestinationConfirmations
		completedAt := now
		tx.CompletedAt = &completedAt
		actual := uint(tx.Age(now) / time.Minute)
		tx.ActualDuration = &actual
		return Evaluation{Updated: true, StatusChanged: true}
	case PhaseFailed:
		return fail(tx, st.Error)
	}
	if tx.Age(now) > sm.processingTimeout {
		return fail(tx, errProcessingTimeout)
	}
	if st.SourceConfirmations != tx.SourceConfirmations ||
		st.DestinationConfirmations != tx.DestinationConfirmations {
		tx.SourceConfirmations = st.SourceConfirmations
		tx.DestinationConfirmations = st.DestinationConfirmations
		return Evaluation{Updated: true}
	}
	return Evaluation{}
}

func fail(tx *entity.BridgeTransaction, message string) Evaluation {
	tx.Status = entity.StatusFailed
	tx.LastError = &message
	return Evaluation{Updated: true, StatusChanged: true}
}
