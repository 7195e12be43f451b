package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/omni/bridge-core/db"
	"github.com/omni/bridge-core/entity"
)

type monitoringJobsRepo struct {
	*basePostgresRepo
	txTable string
}

func NewMonitoringJobsRepo(table, txTable string, db *db.DB) entity.MonitoringJobsRepo {
	return &monitoringJobsRepo{
		basePostgresRepo: newBasePostgresRepo(table, db),
		txTable:          txTable,
	}
}

func (r *monitoringJobsRepo) Ensure(ctx context.Context, job *entity.MonitoringJob) error {
	q, args, err := sq.Insert(r.table).
		Columns("transaction_id", "status", "next_check_at", "interval_ms", "retry_count", "max_retries", "is_active").
		Values(job.TransactionID, job.Status, job.NextCheckAt, job.IntervalMs, job.RetryCount, job.MaxRetries, job.IsActive).
		Suffix("ON CONFLICT (transaction_id) DO NOTHING").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("can't insert monitoring job: %w", err)
	}
	return nil
}

func (r *monitoringJobsRepo) GetByTransactionID(ctx context.Context, txID uuid.UUID) (*entity.MonitoringJob, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(sq.Eq{"transaction_id": txID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	job := new(entity.MonitoringJob)
	err = r.db.GetContext(ctx, job, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't get monitoring job by transaction id: %w", err)
	}
	return job, nil
}

// ClaimDue is the single atomic claim-and-lease step shared by all scheduler
// instances. The inner select takes due jobs whose lease is absent or expired,
// the outer update stamps the new lease. SKIP LOCKED keeps two instances
// arriving at the same moment from blocking on each other's rows.
func (r *monitoringJobsRepo) ClaimDue(ctx context.Context, instanceID string, lease time.Duration, limit uint) ([]*entity.MonitoringJob, error) {
	q, args, err := sq.Update(r.table).
		Set("locked_by", instanceID).
		Set("locked_at", sq.Expr("NOW()")).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Expr(
			"id IN (SELECT id FROM "+r.table+
				" WHERE is_active AND next_check_at <= NOW()"+
				" AND (locked_by IS NULL OR locked_at < NOW() - ? * INTERVAL '1 millisecond')"+
				" ORDER BY next_check_at FOR UPDATE SKIP LOCKED LIMIT ?)",
			lease.Milliseconds(), limit,
		)).
		Suffix("RETURNING *").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	jobs := make([]*entity.MonitoringJob, 0, limit)
	err = r.db.SelectContext(ctx, &jobs, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't claim due monitoring jobs: %w", err)
	}
	return jobs, nil
}

func (r *monitoringJobsRepo) Reschedule(ctx context.Context, job *entity.MonitoringJob) error {
	err := r.update(ctx, sq.Update(r.table).
		Set("status", job.Status).
		Set("next_check_at", job.NextCheckAt).
		Set("interval_ms", job.IntervalMs).
		Set("retry_count", job.RetryCount).
		Set("last_error", job.LastError).
		Set("locked_by", nil).
		Set("locked_at", nil).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": job.ID}))
	if err != nil {
		return fmt.Errorf("can't reschedule monitoring job: %w", err)
	}
	return nil
}

func (r *monitoringJobsRepo) Deactivate(ctx context.Context, job *entity.MonitoringJob) error {
	job.IsActive = false
	err := r.update(ctx, sq.Update(r.table).
		Set("status", job.Status).
		Set("retry_count", job.RetryCount).
		Set("last_error", job.LastError).
		Set("is_active", false).
		Set("locked_by", nil).
		Set("locked_at", nil).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": job.ID}))
	if err != nil {
		return fmt.Errorf("can't deactivate monitoring job: %w", err)
	}
	return nil
}

func (r *monitoringJobsRepo) DeactivateByTransactionID(ctx context.Context, txID uuid.UUID) error {
	err := r.update(ctx, sq.Update(r.table).
		Set("is_active", false).
		Set("locked_by", nil).
		Set("locked_at", nil).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"transaction_id": txID, "is_active": true}))
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("can't deactivate monitoring job by transaction id: %w", err)
	}
	return nil
}

func (r *monitoringJobsRepo) ReleaseExpiredLeases(ctx context.Context, lease time.Duration) (int64, error) {
	q, args, err := sq.Update(r.table).
		Set("locked_by", nil).
		Set("locked_at", nil).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.NotEq{"locked_by": nil}).
		Where(sq.Expr("locked_at < NOW() - ? * INTERVAL '1 millisecond'", lease.Milliseconds())).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("can't build query: %w", err)
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("can't release expired leases: %w", err)
	}
	return res.RowsAffected()
}

func (r *monitoringJobsRepo) DeactivateOrphaned(ctx context.Context) (int64, error) {
	q, args, err := sq.Update(r.table).
		Set("is_active", false).
		Set("locked_by", nil).
		Set("locked_at", nil).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"is_active": true}).
		Where(sq.Expr(
			"transaction_id IN (SELECT id FROM "+r.txTable+" WHERE status IN (?,?,?))",
			entity.StatusCompleted, entity.StatusFailed, entity.StatusRefunded,
		)).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("can't build query: %w", err)
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("can't deactivate orphaned jobs: %w", err)
	}
	return res.RowsAffected()
}

func (r *monitoringJobsRepo) CountActive(ctx context.Context) (uint, error) {
	q, args, err := sq.Select("COUNT(*)").
		From(r.table).
		Where(sq.Eq{"is_active": true}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("can't build query: %w", err)
	}
	var count uint
	err = r.db.GetContext(ctx, &count, q, args...)
	if err != nil {
		return 0, fmt.Errorf("can't count active jobs: %w", err)
	}
	return count, nil
}

func (r *monitoringJobsRepo) update(ctx context.Context, query sq.UpdateBuilder) error {
	q, args, err := query.PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("can't get affected rows: %w", err)
	}
	if n == 0 {
		return db.ErrNotFound
	}
	return nil
}
