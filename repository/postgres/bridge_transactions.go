package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/omni/bridge-core/db"
	"github.com/omni/bridge-core/entity"
)

type bridgeTransactionsRepo struct {
	*basePostgresRepo
	jobsTable string
}

func NewBridgeTransactionsRepo(table, jobsTable string, db *db.DB) entity.BridgeTransactionsRepo {
	return &bridgeTransactionsRepo{
		basePostgresRepo: newBasePostgresRepo(table, db),
		jobsTable:        jobsTable,
	}
}

func (r *bridgeTransactionsRepo) Create(ctx context.Context, tx *entity.BridgeTransaction) error {
	q, args, err := sq.Insert(r.table).
		Columns(
			"id", "source_chain", "destination_chain", "source_token", "destination_token",
			"amount", "protocol_fee", "network_fee", "amount_received",
			"from_address", "to_address", "status", "required_confirmations", "estimated_duration_minutes",
		).
		Values(
			tx.ID, tx.SourceChain, tx.DestinationChain, tx.SourceToken, tx.DestinationToken,
			tx.Amount, tx.ProtocolFee, tx.NetworkFee, tx.AmountReceived,
			tx.FromAddress, tx.ToAddress, tx.Status, tx.RequiredConfirmations, tx.EstimatedDuration,
		).
		Suffix("RETURNING created_at, updated_at").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	err = r.db.GetContext(ctx, tx, q, args...)
	if err != nil {
		return fmt.Errorf("can't insert bridge transaction: %w", err)
	}
	return nil
}

func (r *bridgeTransactionsRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.BridgeTransaction, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	tx := new(entity.BridgeTransaction)
	err = r.db.GetContext(ctx, tx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't get bridge transaction by id: %w", err)
	}
	return tx, nil
}

func (r *bridgeTransactionsRepo) Update(ctx context.Context, tx *entity.BridgeTransaction) error {
	q, args, err := sq.Update(r.table).
		Set("status", tx.Status).
		Set("source_tx_ref", tx.SourceTxRef).
		Set("destination_tx_ref", tx.DestinationTxRef).
		Set("source_confirmations", tx.SourceConfirmations).
		Set("destination_confirmations", tx.DestinationConfirmations).
		Set("actual_duration_minutes", tx.ActualDuration).
		Set("last_error", tx.LastError).
		Set("completed_at", tx.CompletedAt).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": tx.ID}).
		Where(sq.NotEq{"status": entity.TerminalStatuses()}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("can't update bridge transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("can't get affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("transaction %s is missing or terminal: %w", tx.ID, entity.ErrTerminalStatus)
	}
	return nil
}

func (r *bridgeTransactionsRepo) Find(ctx context.Context, filter *entity.BridgeTransactionsFilter) ([]*entity.BridgeTransaction, error) {
	query := sq.Select("*").
		From(r.table).
		OrderBy("created_at DESC")
	if filter.FromAddress != nil {
		query = query.Where(sq.Eq{"from_address": *filter.FromAddress})
	}
	if filter.Status != nil {
		query = query.Where(sq.Eq{"status": *filter.Status})
	}
	if filter.SourceChain != nil {
		query = query.Where(sq.Eq{"source_chain": *filter.SourceChain})
	}
	if filter.Limit > 0 {
		query = query.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		query = query.Offset(uint64(filter.Offset))
	}
	q, args, err := query.PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	txs := make([]*entity.BridgeTransaction, 0, filter.Limit)
	err = r.db.SelectContext(ctx, &txs, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't find bridge transactions: %w", err)
	}
	return txs, nil
}

func (r *bridgeTransactionsRepo) FindActiveWithoutJob(ctx context.Context) ([]*entity.BridgeTransaction, error) {
	q, args, err := sq.Select("t.*").
		From(r.table+" t").
		LeftJoin(r.jobsTable+" j ON j.transaction_id = t.id").
		Where(sq.Eq{"j.id": nil}).
		Where(sq.NotEq{"t.status": entity.TerminalStatuses()}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	txs := make([]*entity.BridgeTransaction, 0, 5)
	err = r.db.SelectContext(ctx, &txs, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't find unmonitored transactions: %w", err)
	}
	return txs, nil
}
