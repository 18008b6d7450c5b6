package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "medledger",
		Subsystem: "ledger",
		Name:      "submits_total",
		Help:      "Submitted transactions by function and outcome, after retries.",
	}, []string{"function", "outcome"})

	evaluatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "medledger",
		Subsystem: "ledger",
		Name:      "evaluates_total",
		Help:      "Evaluated queries by function and outcome, after retries.",
	}, []string{"function", "outcome"})

	connectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "medledger",
		Subsystem: "ledger",
		Name:      "connects_total",
		Help:      "Successful gateway dials, including reconnects after a failure.",
	})
)

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
