package alerts

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AlertUnmonitorableTransaction = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "alert",
		Subsystem: "bridge",
		Name:      "unmonitorable_transaction",
		Help:      "Shows non-terminal transactions whose monitoring job exhausted its retries.",
	}, []string{"tx_id", "status", "retry_count", "last_error"})

	AlertStuckTransaction = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "alert",
		Subsystem: "bridge",
		Name:      "stuck_transaction",
		Help:      "Shows in-flight transactions well past their estimated duration.",
	}, []string{"tx_id", "source_chain", "source_confirmations"})
)
