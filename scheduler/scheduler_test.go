package scheduler_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/omni/bridge-core/bridge"
	"github.com/omni/bridge-core/config"
	"github.com/omni/bridge-core/db"
	"github.com/omni/bridge-core/entity"
	"github.com/omni/bridge-core/logging"
	"github.com/omni/bridge-core/repository"
	"github.com/omni/bridge-core/scheduler"
)

// memStore is an in-memory stand-in for the postgres repositories, faithful
// to their locking and terminal-status contracts.
type memStore struct {
	mu     sync.Mutex
	txs    map[uuid.UUID]*entity.BridgeTransaction
	jobs   map[uint64]*entity.MonitoringJob
	nextID uint64
}

func newMemStore() *memStore {
	return &memStore{
		txs:  make(map[uuid.UUID]*entity.BridgeTransaction),
		jobs: make(map[uint64]*entity.MonitoringJob),
	}
}

func (s *memStore) repo() *repository.Repo {
	return &repository.Repo{
		BridgeTransactions: &memTxRepo{s},
		MonitoringJobs:     &memJobsRepo{s},
	}
}

func (s *memStore) putTx(tx *entity.BridgeTransaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tx
	s.txs[tx.ID] = &cp
}

func (s *memStore) getTx(id uuid.UUID) *entity.BridgeTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.txs[id]
	return &cp
}

func (s *memStore) jobByTx(txID uuid.UUID) *entity.MonitoringJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.TransactionID == txID {
			cp := *job
			return &cp
		}
	}
	return nil
}

func (s *memStore) rewindJob(txID uuid.UUID, to time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.TransactionID == txID {
			job.NextCheckAt = to
		}
	}
}

type memTxRepo struct {
	store *memStore
}

func (r *memTxRepo) Create(ctx context.Context, tx *entity.BridgeTransaction) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	now := time.Now()
	if tx.CreatedAt == nil {
		tx.CreatedAt = &now
	}
	tx.UpdatedAt = &now
	cp := *tx
	r.store.txs[tx.ID] = &cp
	return nil
}

func (r *memTxRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.BridgeTransaction, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	tx, ok := r.store.txs[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

func (r *memTxRepo) Update(ctx context.Context, tx *entity.BridgeTransaction) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	prev, ok := r.store.txs[tx.ID]
	if !ok {
		return db.ErrNotFound
	}
	if prev.Status.IsTerminal() {
		return entity.ErrTerminalStatus
	}
	cp := *tx
	r.store.txs[tx.ID] = &cp
	return nil
}

func (r *memTxRepo) Find(ctx context.Context, filter *entity.BridgeTransactionsFilter) ([]*entity.BridgeTransaction, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	res := make([]*entity.BridgeTransaction, 0, len(r.store.txs))
	for _, tx := range r.store.txs {
		if filter.Status != nil && tx.Status != *filter.Status {
			continue
		}
		if filter.FromAddress != nil && tx.FromAddress != *filter.FromAddress {
			continue
		}
		cp := *tx
		res = append(res, &cp)
	}
	return res, nil
}

func (r *memTxRepo) FindActiveWithoutJob(ctx context.Context) ([]*entity.BridgeTransaction, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	withJob := make(map[uuid.UUID]bool, len(r.store.jobs))
	for _, job := range r.store.jobs {
		withJob[job.TransactionID] = true
	}
	var res []*entity.BridgeTransaction
	for _, tx := range r.store.txs {
		if !tx.Status.IsTerminal() && !withJob[tx.ID] {
			cp := *tx
			res = append(res, &cp)
		}
	}
	return res, nil
}

type memJobsRepo struct {
	store *memStore
}

func (r *memJobsRepo) Ensure(ctx context.Context, job *entity.MonitoringJob) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, existing := range r.store.jobs {
		if existing.TransactionID == job.TransactionID {
			return nil
		}
	}
	r.store.nextID++
	job.ID = r.store.nextID
	cp := *job
	r.store.jobs[job.ID] = &cp
	return nil
}

func (r *memJobsRepo) GetByTransactionID(ctx context.Context, txID uuid.UUID) (*entity.MonitoringJob, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, job := range r.store.jobs {
		if job.TransactionID == txID {
			cp := *job
			return &cp, nil
		}
	}
	return nil, db.ErrNotFound
}

func (r *memJobsRepo) ClaimDue(ctx context.Context, instanceID string, lease time.Duration, limit uint) ([]*entity.MonitoringJob, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	now := time.Now()
	var due []*entity.MonitoringJob
	for _, job := range r.store.jobs {
		if !job.IsActive || job.NextCheckAt.After(now) {
			continue
		}
		if job.LockedBy != nil && job.LockedAt != nil && now.Sub(*job.LockedAt) < lease {
			continue
		}
		due = append(due, job)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextCheckAt.Before(due[j].NextCheckAt) })
	if uint(len(due)) > limit {
		due = due[:limit]
	}
	claimed := make([]*entity.MonitoringJob, 0, len(due))
	for _, job := range due {
		lockedAt := now
		job.LockedBy = &instanceID
		job.LockedAt = &lockedAt
		cp := *job
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

func (r *memJobsRepo) Reschedule(ctx context.Context, job *entity.MonitoringJob) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	stored, ok := r.store.jobs[job.ID]
	if !ok {
		return db.ErrNotFound
	}
	stored.Status = job.Status
	stored.NextCheckAt = job.NextCheckAt
	stored.IntervalMs = job.IntervalMs
	stored.RetryCount = job.RetryCount
	stored.LastError = job.LastError
	stored.LockedBy = nil
	stored.LockedAt = nil
	return nil
}

func (r *memJobsRepo) Deactivate(ctx context.Context, job *entity.MonitoringJob) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	stored, ok := r.store.jobs[job.ID]
	if !ok {
		return db.ErrNotFound
	}
	stored.Status = job.Status
	stored.RetryCount = job.RetryCount
	stored.LastError = job.LastError
	stored.IsActive = false
	stored.LockedBy = nil
	stored.LockedAt = nil
	return nil
}

func (r *memJobsRepo) DeactivateByTransactionID(ctx context.Context, txID uuid.UUID) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, job := range r.store.jobs {
		if job.TransactionID == txID {
			job.IsActive = false
			job.LockedBy = nil
			job.LockedAt = nil
		}
	}
	return nil
}

func (r *memJobsRepo) ReleaseExpiredLeases(ctx context.Context, lease time.Duration) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	now := time.Now()
	var released int64
	for _, job := range r.store.jobs {
		if job.LockedAt != nil && now.Sub(*job.LockedAt) >= lease {
			job.LockedBy = nil
			job.LockedAt = nil
			released++
		}
	}
	return released, nil
}

func (r *memJobsRepo) DeactivateOrphaned(ctx context.Context) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var retired int64
	for _, job := range r.store.jobs {
		tx, ok := r.store.txs[job.TransactionID]
		if job.IsActive && ok && tx.Status.IsTerminal() {
			job.IsActive = false
			job.LockedBy = nil
			job.LockedAt = nil
			retired++
		}
	}
	return retired, nil
}

func (r *memJobsRepo) CountActive(ctx context.Context) (uint, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var active uint
	for _, job := range r.store.jobs {
		if job.IsActive {
			active++
		}
	}
	return active, nil
}

// scriptedAdapter returns a preset status and counts queries.
type scriptedAdapter struct {
	mu      sync.Mutex
	status  *bridge.TransferStatus
	err     error
	queries int
}

func (a *scriptedAdapter) Initiate(ctx context.Context, tx *entity.BridgeTransaction) error {
	return nil
}

func (a *scriptedAdapter) QueryStatus(ctx context.Context, tx *entity.BridgeTransaction) (*bridge.TransferStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queries++
	if a.err != nil {
		return nil, a.err
	}
	cp := *a.status
	return &cp, nil
}

func (a *scriptedAdapter) set(status *bridge.TransferStatus, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status, a.err = status, err
}

func (a *scriptedAdapter) queryCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.queries
}

func testSchedulerConfig(instanceID string) *config.SchedulerConfig {
	return &config.SchedulerConfig{
		InstanceID:         instanceID,
		TickInterval:       5 * time.Second,
		BatchSize:          10,
		LeaseTimeout:       5 * time.Minute,
		MaxRetries:         3,
		PendingInterval:    30 * time.Second,
		ProcessingInterval: 15 * time.Second,
		MaxBackoff:         5 * time.Minute,
		PendingTimeout:     time.Hour,
		ProcessingTimeout:  2 * time.Hour,
	}
}

func newPendingTx(store *memStore) *entity.BridgeTransaction {
	now := time.Now()
	tx := &entity.BridgeTransaction{
		ID:        uuid.New(),
		Status:    entity.StatusPending,
		CreatedAt: &now,
	}
	store.putTx(tx)
	return tx
}

func strPtr(v string) *string {
	return &v
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		Name       string
		Interval   time.Duration
		RetryCount uint
		Max        time.Duration
		Expected   time.Duration
	}{
		{"first retry doubles the interval", 15 * time.Second, 1, 5 * time.Minute, 30 * time.Second},
		{"second retry quadruples the interval", 15 * time.Second, 2, 5 * time.Minute, time.Minute},
		{"third retry", 15 * time.Second, 3, 5 * time.Minute, 2 * time.Minute},
		{"backoff is capped at the maximum", 30 * time.Second, 5, 5 * time.Minute, 5 * time.Minute},
		{"shift overflow falls back to the maximum", time.Minute, 62, 5 * time.Minute, 5 * time.Minute},
	} {
		test := test
		t.Run(test.Name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, test.Expected, scheduler.Backoff(test.Interval, test.RetryCount, test.Max))
		})
	}
}

func TestSchedulerEnroll(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newMemStore()
	sched := scheduler.NewScheduler(logging.New(), testSchedulerConfig("test-1"), store.repo(), &scriptedAdapter{})
	tx := newPendingTx(store)

	require.NoError(t, sched.Enroll(ctx, tx))
	job := store.jobByTx(tx.ID)
	require.NotNil(t, job)
	require.True(t, job.IsActive)
	require.Equal(t, entity.StatusPending, job.Status)
	require.EqualValues(t, 30000, job.IntervalMs)
	require.EqualValues(t, 3, job.MaxRetries)

	// Enrolling the same transaction again does not create a second job.
	require.NoError(t, sched.Enroll(ctx, tx))
	active, err := store.repo().MonitoringJobs.CountActive(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, active)
}

func TestSchedulerEnrollRejectsTerminalTransaction(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	sched := scheduler.NewScheduler(logging.New(), testSchedulerConfig("test-1"), store.repo(), &scriptedAdapter{})
	tx := newPendingTx(store)
	tx.Status = entity.StatusCompleted

	require.Error(t, sched.Enroll(context.Background(), tx))
	require.Nil(t, store.jobByTx(tx.ID))
}

func TestSchedulerDrivesTransferToCompletion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newMemStore()
	adapter := &scriptedAdapter{status: &bridge.TransferStatus{Phase: bridge.PhaseUnknown}}
	sched := scheduler.NewScheduler(logging.New(), testSchedulerConfig("test-1"), store.repo(), adapter)
	tx := newPendingTx(store)
	require.NoError(t, sched.Enroll(ctx, tx))

	// Nothing on the source chain yet, the transaction stays pending.
	store.rewindJob(tx.ID, time.Now().Add(-time.Second))
	sched.RunTick(ctx)
	require.Equal(t, entity.StatusPending, store.getTx(tx.ID).Status)

	// The source transaction appears, the transfer starts processing and the
	// job switches to the tighter processing cadence.
	adapter.set(&bridge.TransferStatus{
		Phase:               bridge.PhaseConfirming,
		SourceTxRef:         strPtr("0xabc"),
		SourceConfirmations: 2,
	}, nil)
	store.rewindJob(tx.ID, time.Now().Add(-time.Second))
	sched.RunTick(ctx)

	got := store.getTx(tx.ID)
	require.Equal(t, entity.StatusProcessing, got.Status)
	require.NotNil(t, got.SourceTxRef)
	require.Equal(t, "0xabc", *got.SourceTxRef)
	job := store.jobByTx(tx.ID)
	require.True(t, job.IsActive)
	require.Equal(t, entity.StatusProcessing, job.Status)
	require.EqualValues(t, 15000, job.IntervalMs)
	require.Nil(t, job.LockedBy)

	// The destination side settles, the transaction completes and the job is
	// retired.
	adapter.set(&bridge.TransferStatus{
		Phase:                    bridge.PhaseCompleted,
		SourceTxRef:              strPtr("0xabc"),
		DestinationTxRef:         strPtr("0xdef"),
		SourceConfirmations:      12,
		DestinationConfirmations: 12,
	}, nil)
	store.rewindJob(tx.ID, time.Now().Add(-time.Second))
	sched.RunTick(ctx)

	got = store.getTx(tx.ID)
	require.Equal(t, entity.StatusCompleted, got.Status)
	require.NotNil(t, got.DestinationTxRef)
	require.NotNil(t, got.CompletedAt)
	job = store.jobByTx(tx.ID)
	require.False(t, job.IsActive)

	// A further tick has nothing to do.
	queries := adapter.queryCount()
	sched.RunTick(ctx)
	require.Equal(t, queries, adapter.queryCount())
}

func TestSchedulerSkipsLeasedJobs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newMemStore()
	adapter := &scriptedAdapter{status: &bridge.TransferStatus{Phase: bridge.PhaseUnknown}}
	sched := scheduler.NewScheduler(logging.New(), testSchedulerConfig("test-b"), store.repo(), adapter)
	tx := newPendingTx(store)
	require.NoError(t, sched.Enroll(ctx, tx))
	store.rewindJob(tx.ID, time.Now().Add(-time.Second))

	// Another live instance holds the lease, this instance must not touch the
	// job.
	lockedAt := time.Now().Add(-time.Minute)
	store.mu.Lock()
	for _, job := range store.jobs {
		job.LockedBy = strPtr("test-a")
		job.LockedAt = &lockedAt
	}
	store.mu.Unlock()

	sched.RunTick(ctx)
	require.Equal(t, 0, adapter.queryCount())

	// Once the lease expires the job becomes claimable again.
	expiredAt := time.Now().Add(-10 * time.Minute)
	store.mu.Lock()
	for _, job := range store.jobs {
		job.LockedAt = &expiredAt
	}
	store.mu.Unlock()

	sched.RunTick(ctx)
	require.Equal(t, 1, adapter.queryCount())
	job := store.jobByTx(tx.ID)
	require.Nil(t, job.LockedBy, "a processed job releases its lease")
}

func TestSchedulerRetriesFailedChecksWithBackoff(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newMemStore()
	adapter := &scriptedAdapter{err: errors.New("relayer is down")}
	sched := scheduler.NewScheduler(logging.New(), testSchedulerConfig("test-1"), store.repo(), adapter)
	tx := newPendingTx(store)
	require.NoError(t, sched.Enroll(ctx, tx))

	// The first three failures back the job off at doubling delays without
	// touching the transaction: 60s, 2m, 4m for the 30s pending interval.
	for attempt := uint(1); attempt <= 3; attempt++ {
		store.rewindJob(tx.ID, time.Now().Add(-time.Second))
		before := time.Now()
		sched.RunTick(ctx)

		job := store.jobByTx(tx.ID)
		require.True(t, job.IsActive)
		require.Equal(t, attempt, job.RetryCount)
		require.NotNil(t, job.LastError)
		require.Contains(t, *job.LastError, "relayer is down")
		expectedBackoff := time.Duration(30<<attempt) * time.Second
		require.WithinDuration(t, before.Add(expectedBackoff), job.NextCheckAt, 5*time.Second)
		require.Equal(t, entity.StatusPending, store.getTx(tx.ID).Status)
	}

	// The fourth failure exhausts the retry budget, the job is retired and
	// the transaction is left for external reconciliation.
	store.rewindJob(tx.ID, time.Now().Add(-time.Second))
	sched.RunTick(ctx)

	job := store.jobByTx(tx.ID)
	require.False(t, job.IsActive)
	require.EqualValues(t, 4, job.RetryCount)
	require.Equal(t, entity.StatusPending, store.getTx(tx.ID).Status)
}

func TestSchedulerRetiresJobOfCancelledTransaction(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newMemStore()
	adapter := &scriptedAdapter{status: &bridge.TransferStatus{Phase: bridge.PhaseUnknown}}
	sched := scheduler.NewScheduler(logging.New(), testSchedulerConfig("test-1"), store.repo(), adapter)
	tx := newPendingTx(store)
	require.NoError(t, sched.Enroll(ctx, tx))

	// The transaction was refunded out of band between checks.
	tx.Status = entity.StatusRefunded
	store.putTx(tx)
	store.rewindJob(tx.ID, time.Now().Add(-time.Second))
	sched.RunTick(ctx)

	job := store.jobByTx(tx.ID)
	require.False(t, job.IsActive)
	require.Equal(t, 0, adapter.queryCount(), "a terminal transaction is never queried")
}

func TestSchedulerRecoverState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newMemStore()
	adapter := &scriptedAdapter{status: &bridge.TransferStatus{Phase: bridge.PhaseUnknown}}
	sched := scheduler.NewScheduler(logging.New(), testSchedulerConfig("test-1"), store.repo(), adapter)

	// Job with a lease left behind by a dead instance.
	leased := newPendingTx(store)
	require.NoError(t, sched.Enroll(ctx, leased))
	staleAt := time.Now().Add(-time.Hour)
	store.mu.Lock()
	for _, job := range store.jobs {
		job.LockedBy = strPtr("dead-instance")
		job.LockedAt = &staleAt
	}
	store.mu.Unlock()

	// Active job whose transaction already completed.
	orphaned := newPendingTx(store)
	require.NoError(t, sched.Enroll(ctx, orphaned))
	orphaned.Status = entity.StatusCompleted
	store.putTx(orphaned)

	// Non-terminal transaction that lost its job in a crash.
	unmonitored := newPendingTx(store)

	// Non-terminal transaction whose job was retired after exhausting its
	// retries. It waits for external reconciliation and must not come back.
	exhausted := newPendingTx(store)
	require.NoError(t, sched.Enroll(ctx, exhausted))
	exhaustedJob := store.jobByTx(exhausted.ID)
	exhaustedJob.RetryCount = 4
	require.NoError(t, store.repo().MonitoringJobs.Deactivate(ctx, exhaustedJob))

	require.NoError(t, sched.RecoverState(ctx))

	job := store.jobByTx(leased.ID)
	require.Nil(t, job.LockedBy)
	require.Nil(t, job.LockedAt)
	require.True(t, job.IsActive)

	require.False(t, store.jobByTx(orphaned.ID).IsActive)

	job = store.jobByTx(unmonitored.ID)
	require.NotNil(t, job)
	require.True(t, job.IsActive)
	require.Equal(t, entity.StatusPending, job.Status)

	job = store.jobByTx(exhausted.ID)
	require.False(t, job.IsActive)
	require.EqualValues(t, 4, job.RetryCount)
}
