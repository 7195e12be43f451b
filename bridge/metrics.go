package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QuotesIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bridge",
		Subsystem: "estimator",
		Name:      "quotes_issued_total",
	}, []string{"degraded"})

	TransfersInitiated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bridge",
		Subsystem: "core",
		Name:      "transfers_initiated_total",
	})

	TransfersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bridge",
		Subsystem: "core",
		Name:      "transfers_cancelled_total",
	})
)

func ObserveQuote(degraded bool) {
	if degraded {
		QuotesIssued.WithLabelValues("true").Inc()
	} else {
		QuotesIssued.WithLabelValues("false").Inc()
	}
}
