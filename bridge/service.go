package bridge

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/omni/bridge-core/config"
	"github.com/omni/bridge-core/entity"
	"github.com/omni/bridge-core/logging"
	"github.com/omni/bridge-core/repository"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// JobEnroller creates the monitoring job for a freshly initiated transfer.
// Implemented by the scheduler.
type JobEnroller interface {
	Enroll(ctx context.Context, tx *entity.BridgeTransaction) error
}

// Service is the core-facing API surface consumed by the routing layer.
type Service struct {
	logger    logging.Logger
	repo      *repository.Repo
	chains    map[string]*config.ChainConfig
	routes    *Routes
	estimator *FeeEstimator
	adapter   ProtocolAdapter
	enroller  JobEnroller
}

func NewService(
	logger logging.Logger,
	repo *repository.Repo,
	chains map[string]*config.ChainConfig,
	routes *Routes,
	estimator *FeeEstimator,
	adapter ProtocolAdapter,
	enroller JobEnroller,
) *Service {
	return &Service{
		logger:    logger,
		repo:      repo,
		chains:    chains,
		routes:    routes,
		estimator: estimator,
		adapter:   adapter,
		enroller:  enroller,
	}
}

func (s *Service) Estimate(ctx context.Context, route Route, amount decimal.Decimal) (*Quote, error) {
	return s.estimator.Estimate(ctx, route, amount)
}

// Initiate creates the pending transaction record, hands it to the protocol
// adapter and enrolls its monitoring job. Fees are computed fresh, a quote
// obtained earlier is advisory only.
func (s *Service) Initiate(ctx context.Context, route Route, amount decimal.Decimal, fromAddress, toAddress string) (*entity.BridgeTransaction, error) {
	if !common.IsHexAddress(fromAddress) {
		return nil, fmt.Errorf("from address %q: %w", fromAddress, ErrInvalidAddress)
	}
	if !common.IsHexAddress(toAddress) {
		return nil, fmt.Errorf("to address %q: %w", toAddress, ErrInvalidAddress)
	}
	quote, err := s.estimator.Estimate(ctx, route, amount)
	if err != nil {
		return nil, err
	}

	tx := &entity.BridgeTransaction{
		ID:                    uuid.New(),
		SourceChain:           route.SourceChain,
		DestinationChain:      route.DestinationChain,
		SourceToken:           route.SourceToken,
		DestinationToken:      route.DestinationToken,
		Amount:                amount,
		ProtocolFee:           quote.ProtocolFee,
		NetworkFee:            quote.NetworkFee,
		AmountReceived:        quote.AmountReceived,
		FromAddress:           fromAddress,
		ToAddress:             toAddress,
		Status:                entity.StatusPending,
		RequiredConfirmations: s.chains[route.SourceChain].RequiredConfirmations,
		EstimatedDuration:     quote.EstimatedDuration,
	}
	if err = s.repo.BridgeTransactions.Create(ctx, tx); err != nil {
		return nil, fmt.Errorf("can't create bridge transaction: %w", err)
	}
	if err = s.adapter.Initiate(ctx, tx); err != nil {
		return nil, fmt.Errorf("can't initiate transfer %s: %w", tx.ID, err)
	}
	if err = s.enroller.Enroll(ctx, tx); err != nil {
		return nil, fmt.Errorf("can't enroll monitoring job for %s: %w", tx.ID, err)
	}
	s.logger.WithFields(logrus.Fields{
		"tx_id":  tx.ID,
		"route":  fmt.Sprintf("%s/%s -> %s/%s", route.SourceChain, route.SourceToken, route.DestinationChain, route.DestinationToken),
		"amount": amount,
	}).Info("initiated bridge transfer")
	TransfersInitiated.Inc()
	return tx, nil
}

func (s *Service) GetStatus(ctx context.Context, id uuid.UUID) (*entity.BridgeTransaction, error) {
	return s.repo.BridgeTransactions.GetByID(ctx, id)
}

// Cancel aborts a transfer that has not yet been committed to the source
// ledger. The record moves to refunded and its monitoring job is retired in
// the same unit of work. Transfers already processing are irreversible.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*entity.BridgeTransaction, error) {
	tx, err := s.repo.BridgeTransactions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Status != entity.StatusPending {
		return nil, fmt.Errorf("transaction %s is %s: %w", id, tx.Status, ErrNotCancellable)
	}
	tx.Status = entity.StatusRefunded
	if err = s.repo.BridgeTransactions.Update(ctx, tx); err != nil {
		return nil, fmt.Errorf("can't cancel transaction %s: %w", id, err)
	}
	if err = s.repo.MonitoringJobs.DeactivateByTransactionID(ctx, id); err != nil {
		return nil, err
	}
	s.logger.WithField("tx_id", id).Info("cancelled bridge transfer")
	TransfersCancelled.Inc()
	return tx, nil
}

func (s *Service) ListHistory(ctx context.Context, filter *entity.BridgeTransactionsFilter) ([]*entity.BridgeTransaction, error) {
	if filter.Limit == 0 {
		filter.Limit = defaultHistoryLimit
	}
	if filter.Limit > maxHistoryLimit {
		filter.Limit = maxHistoryLimit
	}
	return s.repo.BridgeTransactions.Find(ctx, filter)
}
