package repository

import (
	"github.com/omni/bridge-core/db"
	"github.com/omni/bridge-core/entity"
	"github.com/omni/bridge-core/repository/postgres"
)

type Repo struct {
	BridgeTransactions entity.BridgeTransactionsRepo
	MonitoringJobs     entity.MonitoringJobsRepo
}

func NewRepo(db *db.DB) *Repo {
	return &Repo{
		BridgeTransactions: postgres.NewBridgeTransactionsRepo("bridge_transactions", "monitoring_jobs", db),
		MonitoringJobs:     postgres.NewMonitoringJobsRepo("monitoring_jobs", "bridge_transactions", db),
	}
}
