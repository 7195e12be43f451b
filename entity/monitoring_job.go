package entity

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MonitoringJob drives the periodic status checks of a single bridge
// transaction. At most one active job exists per non-terminal transaction.
type MonitoringJob struct {
	ID            uint64     `db:"id"`
	TransactionID uuid.UUID  `db:"transaction_id"`
	Status        Status     `db:"status"`
	NextCheckAt   time.Time  `db:"next_check_at"`
	IntervalMs    int64      `db:"interval_ms"`
	RetryCount    uint       `db:"retry_count"`
	MaxRetries    uint       `db:"max_retries"`
	LastError     *string    `db:"last_error"`
	IsActive      bool       `db:"is_active"`
	LockedBy      *string    `db:"locked_by"`
	LockedAt      *time.Time `db:"locked_at"`
	CreatedAt     *time.Time `db:"created_at"`
	UpdatedAt     *time.Time `db:"updated_at"`
}

func (j *MonitoringJob) Interval() time.Duration {
	return time.Duration(j.IntervalMs) * time.Millisecond
}

type MonitoringJobsRepo interface {
	// Ensure inserts the job unless the transaction already has one.
	Ensure(ctx context.Context, job *MonitoringJob) error
	GetByTransactionID(ctx context.Context, txID uuid.UUID) (*MonitoringJob, error)
	// ClaimDue atomically leases up to limit due unleased jobs to the given
	// instance. A job is due when it is active, its next_check_at has passed
	// and it is either unleased or its previous lease has expired.
	ClaimDue(ctx context.Context, instanceID string, lease time.Duration, limit uint) ([]*MonitoringJob, error)
	// Reschedule persists the job's status, schedule and retry bookkeeping
	// and releases the lease.
	Reschedule(ctx context.Context, job *MonitoringJob) error
	// Deactivate retires the job and releases the lease.
	Deactivate(ctx context.Context, job *MonitoringJob) error
	DeactivateByTransactionID(ctx context.Context, txID uuid.UUID) error
	// ReleaseExpiredLeases clears leases older than the given timeout,
	// regardless of the instance that held them.
	ReleaseExpiredLeases(ctx context.Context, lease time.Duration) (int64, error)
	// DeactivateOrphaned retires active jobs whose transaction has already
	// reached a terminal status.
	DeactivateOrphaned(ctx context.Context) (int64, error)
	CountActive(ctx context.Context) (uint, error)
}
