package alerts

import (
	"context"
	"time"

	"github.com/omni/bridge-core/db"
	"github.com/omni/bridge-core/logging"
)

type AlertManager struct {
	logger logging.Logger
	jobs   map[string]*Job
}

func NewAlertManager(logger logging.Logger, db *db.DB) *AlertManager {
	provider := NewDBAlertsProvider(db)
	jobs := map[string]*Job{
		"unmonitorable_transaction": {
			Interval: time.Minute,
			Timeout:  time.Second * 10,
			Func:     provider.FindUnmonitorableTransactions,
			Metric:   AlertUnmonitorableTransaction,
		},
		"stuck_transaction": {
			Interval: time.Minute * 5,
			Timeout:  time.Second * 20,
			Func:     provider.FindStuckTransactions,
			Metric:   AlertStuckTransaction,
		},
	}
	return &AlertManager{
		logger: logger,
		jobs:   jobs,
	}
}

func (m *AlertManager) Start(ctx context.Context) {
	for name, job := range m.jobs {
		job.logger = m.logger.WithField("alert_job", name)
		go job.Start(ctx)
	}
}
