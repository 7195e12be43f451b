package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/omni/bridge-core/bridge"
	"github.com/omni/bridge-core/config"
	"github.com/omni/bridge-core/entity"
	"github.com/omni/bridge-core/logging"
	"github.com/omni/bridge-core/repository"
	"github.com/omni/bridge-core/utils"
)

// Scheduler runs the global polling loop that drives all monitoring jobs.
// Several instances may run the loop concurrently against the same job
// table, coordination happens entirely through the atomic claim-and-lease
// query in the jobs repository.
type Scheduler struct {
	logger  logging.Logger
	cfg     *config.SchedulerConfig
	repo    *repository.Repo
	adapter bridge.ProtocolAdapter
	sm      *bridge.StateMachine
	now     func() time.Time
}

func NewScheduler(logger logging.Logger, cfg *config.SchedulerConfig, repo *repository.Repo, adapter bridge.ProtocolAdapter) *Scheduler {
	return &Scheduler{
		logger:  logger.WithField("instance_id", cfg.InstanceID),
		cfg:     cfg,
		repo:    repo,
		adapter: adapter,
		sm:      bridge.NewStateMachine(cfg.PendingTimeout, cfg.ProcessingTimeout),
		now:     time.Now,
	}
}

// Enroll creates the monitoring job for a transaction entering the pending
// status. Idempotent, a transaction never gets a second job.
func (s *Scheduler) Enroll(ctx context.Context, tx *entity.BridgeTransaction) error {
	interval := s.intervalFor(tx.Status)
	if interval == 0 {
		return fmt.Errorf("transaction %s is already %s, nothing to monitor", tx.ID, tx.Status)
	}
	job := &entity.MonitoringJob{
		TransactionID: tx.ID,
		Status:        tx.Status,
		NextCheckAt:   s.now().Add(interval),
		IntervalMs:    interval.Milliseconds(),
		MaxRetries:    s.cfg.MaxRetries,
		IsActive:      true,
	}
	return s.repo.MonitoringJobs.Ensure(ctx, job)
}

// RecoverState reconciles the job table with the transaction table. It runs
// at process startup, before the loop starts and before any request is
// served: leases of dead instances are released, jobs of already-terminal
// transactions are retired, and transactions left without a job by a crashed
// instance get one.
func (s *Scheduler) RecoverState(ctx context.Context) error {
	released, err := s.repo.MonitoringJobs.ReleaseExpiredLeases(ctx, s.cfg.LeaseTimeout)
	if err != nil {
		return fmt.Errorf("can't release expired leases: %w", err)
	}
	retired, err := s.repo.MonitoringJobs.DeactivateOrphaned(ctx)
	if err != nil {
		return fmt.Errorf("can't deactivate orphaned jobs: %w", err)
	}
	unmonitored, err := s.repo.BridgeTransactions.FindActiveWithoutJob(ctx)
	if err != nil {
		return fmt.Errorf("can't find unmonitored transactions: %w", err)
	}
	for _, tx := range unmonitored {
		if err = s.Enroll(ctx, tx); err != nil {
			return fmt.Errorf("can't re-enroll job for transaction %s: %w", tx.ID, err)
		}
	}
	s.logger.WithFields(logrus.Fields{
		"released_leases": released,
		"retired_jobs":    retired,
		"re_enrolled":     len(unmonitored),
	}).Info("recovered scheduler state")
	return nil
}

// Start runs the polling loop until the context is cancelled. A tick claims
// a batch of due jobs and processes them, the fixed cadence smooths the load
// across instances regardless of how many jobs are due.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.WithFields(logrus.Fields{
		"tick_interval": s.cfg.TickInterval,
		"batch_size":    s.cfg.BatchSize,
		"lease_timeout": s.cfg.LeaseTimeout,
	}).Info("starting monitoring job scheduler")
	for {
		s.RunTick(ctx)
		if utils.ContextSleep(ctx, s.cfg.TickInterval) == nil {
			s.logger.Info("stopping monitoring job scheduler")
			return
		}
	}
}

// RunTick claims one batch of due jobs and processes it sequentially. The
// tick is bounded by the lease timeout so that a stuck external call cannot
// outlive this instance's claim on the batch.
func (s *Scheduler) RunTick(ctx context.Context) {
	defer prometheus.NewTimer(TickDurations).ObserveDuration()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.LeaseTimeout)
	defer cancel()

	jobs, err := s.repo.MonitoringJobs.ClaimDue(ctx, s.cfg.InstanceID, s.cfg.LeaseTimeout, s.cfg.BatchSize)
	if err != nil {
		s.logger.WithError(err).Error("can't claim due monitoring jobs")
		return
	}
	if len(jobs) > 0 {
		JobsClaimed.Add(float64(len(jobs)))
		s.logger.WithField("count", len(jobs)).Debug("claimed due monitoring jobs")
	}
	for _, job := range jobs {
		s.processJob(ctx, job)
	}

	if active, err2 := s.repo.MonitoringJobs.CountActive(ctx); err2 == nil {
		ActiveJobs.Set(float64(active))
	}
}

// processJob performs one state-machine check for a claimed job and either
// reschedules or retires it. A failure of the check itself (adapter or store
// outage, not a failed transfer) goes through the retry/backoff path and
// never touches the transaction.
func (s *Scheduler) processJob(ctx context.Context, job *entity.MonitoringJob) {
	logger := s.logger.WithFields(logrus.Fields{
		"job_id": job.ID,
		"tx_id":  job.TransactionID,
	})

	tx, err := s.repo.BridgeTransactions.GetByID(ctx, job.TransactionID)
	if err != nil {
		s.handleCheckFailure(ctx, logger, job, fmt.Errorf("can't load transaction: %w", err))
		return
	}
	if tx.Status.IsTerminal() {
		// Cancelled or finalized out of band, nothing left to watch.
		s.retireJob(ctx, logger, job, tx.Status)
		return
	}

	st, err := s.adapter.QueryStatus(ctx, tx)
	if err != nil {
		s.handleCheckFailure(ctx, logger, job, fmt.Errorf("can't query transfer status: %w", err))
		return
	}

	prevStatus := tx.Status
	eval := s.sm.Evaluate(tx, st, s.now())
	if eval.Updated {
		if err = s.repo.BridgeTransactions.Update(ctx, tx); err != nil {
			if errors.Is(err, entity.ErrTerminalStatus) {
				// Lost the race against an out-of-band finalization.
				s.retireJob(ctx, logger, job, prevStatus)
				return
			}
			s.handleCheckFailure(ctx, logger, job, fmt.Errorf("can't persist transaction update: %w", err))
			return
		}
	}
	if eval.StatusChanged {
		logger.WithFields(logrus.Fields{
			"from": prevStatus,
			"to":   tx.Status,
		}).Info("transaction changed status")
	}

	if tx.Status.IsTerminal() {
		s.retireJob(ctx, logger, job, tx.Status)
		return
	}

	interval := s.intervalFor(tx.Status)
	job.Status = tx.Status
	job.IntervalMs = interval.Milliseconds()
	job.NextCheckAt = s.now().Add(interval)
	job.RetryCount = 0
	job.LastError = nil
	if err = s.repo.MonitoringJobs.Reschedule(ctx, job); err != nil {
		logger.WithError(err).Error("can't reschedule monitoring job")
		return
	}
	JobChecks.WithLabelValues("ok").Inc()
}

// retireJob deactivates the job once its transaction reached a terminal
// status, releasing the lease in the same update.
func (s *Scheduler) retireJob(ctx context.Context, logger logging.Logger, job *entity.MonitoringJob, status entity.Status) {
	job.Status = status
	if err := s.repo.MonitoringJobs.Deactivate(ctx, job); err != nil {
		logger.WithError(err).Error("can't deactivate monitoring job")
		return
	}
	logger.WithField("status", status).Info("retired monitoring job")
	JobChecks.WithLabelValues("retired").Inc()
}

// handleCheckFailure applies exponential backoff to consecutive check
// failures. The job gets MaxRetries backoff reschedules; a failure after the
// last of them retires the job and leaves the transaction status untouched:
// the condition is surfaced through logs and metrics and requires external
// reconciliation.
func (s *Scheduler) handleCheckFailure(ctx context.Context, logger logging.Logger, job *entity.MonitoringJob, err error) {
	job.RetryCount++
	msg := err.Error()
	job.LastError = &msg
	logger = logger.WithError(err).WithFields(logrus.Fields{
		"retry_count": job.RetryCount,
		"max_retries": job.MaxRetries,
	})
	JobChecks.WithLabelValues("error").Inc()

	if job.RetryCount > job.MaxRetries {
		if err2 := s.repo.MonitoringJobs.Deactivate(ctx, job); err2 != nil {
			logger.WithError(err2).Error("can't deactivate monitoring job after exhausted retries")
			return
		}
		UnmonitorableJobs.Inc()
		logger.Error("monitoring job exhausted its retries and was deactivated, transaction requires manual reconciliation")
		return
	}

	backoff := Backoff(job.Interval(), job.RetryCount, s.cfg.MaxBackoff)
	job.NextCheckAt = s.now().Add(backoff)
	if err2 := s.repo.MonitoringJobs.Reschedule(ctx, job); err2 != nil {
		logger.WithError(err2).Error("can't reschedule monitoring job after failed check")
		return
	}
	logger.WithField("backoff", backoff).Warn("monitoring check failed, rescheduled with backoff")
}

// Backoff returns interval * 2^retryCount capped at max.
func Backoff(interval time.Duration, retryCount uint, max time.Duration) time.Duration {
	backoff := interval << retryCount
	if backoff > max || backoff <= 0 {
		return max
	}
	return backoff
}

func (s *Scheduler) intervalFor(status entity.Status) time.Duration {
	switch status {
	case entity.StatusPending:
		return s.cfg.PendingInterval
	case entity.StatusProcessing:
		return s.cfg.ProcessingInterval
	}
	return 0
}
