package alerts

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/omni/bridge-core/db"
	"github.com/omni/bridge-core/entity"
)

type DBAlertsProvider struct {
	db *db.DB
}

func NewDBAlertsProvider(db *db.DB) *DBAlertsProvider {
	return &DBAlertsProvider{
		db: db,
	}
}

type UnmonitorableTransaction struct {
	ID         uuid.UUID     `db:"id" json:"tx_id"`
	Status     entity.Status `db:"status" json:"status"`
	RetryCount uint          `db:"retry_count" json:"retry_count,string"`
	LastError  string        `db:"last_error" json:"last_error"`
	Age        time.Duration `db:"age" json:"_value,string"`
}

// FindUnmonitorableTransactions lists non-terminal transactions whose
// monitoring job was deactivated after exhausting its retries. These stop
// updating on their own and need external reconciliation.
func (p *DBAlertsProvider) FindUnmonitorableTransactions(ctx context.Context) (interface{}, error) {
	q, args, err := sq.Select("t.id", "t.status", "j.retry_count", "COALESCE(j.last_error, '') as last_error", "EXTRACT(EPOCH FROM now() - t.created_at)::int as age").
		From("monitoring_jobs j").
		Join("bridge_transactions t ON t.id = j.transaction_id").
		Where(sq.Eq{"j.is_active": false}).
		Where(sq.NotEq{"t.status": entity.TerminalStatuses()}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	res := make([]UnmonitorableTransaction, 0, 5)
	err = p.db.SelectContext(ctx, &res, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't select alerts: %w", err)
	}
	return res, nil
}

type StuckTransaction struct {
	ID                  uuid.UUID     `db:"id" json:"tx_id"`
	SourceChain         string        `db:"source_chain" json:"source_chain"`
	SourceConfirmations uint          `db:"source_confirmations" json:"source_confirmations,string"`
	Age                 time.Duration `db:"age" json:"_value,string"`
}

// FindStuckTransactions lists in-flight transactions that have overshot
// their estimated duration by a factor of two.
func (p *DBAlertsProvider) FindStuckTransactions(ctx context.Context) (interface{}, error) {
	q, args, err := sq.Select("t.id", "t.source_chain", "t.source_confirmations", "EXTRACT(EPOCH FROM now() - t.created_at)::int as age").
		From("bridge_transactions t").
		Where(sq.Eq{"t.status": entity.StatusProcessing}).
		Where(sq.Expr("now() - t.created_at > 2 * make_interval(mins => t.estimated_duration_minutes)")).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	res := make([]StuckTransaction, 0, 5)
	err = p.db.SelectContext(ctx, &res, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't select alerts: %w", err)
	}
	return res, nil
}
