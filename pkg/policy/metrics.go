package policy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var decisionCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gatehouse_policy_decisions_total",
		Help: "Authorization decisions by operation and reason code",
	},
	[]string{"operation", "reason"},
)

func recordDecision(op Operation, reason ReasonCode) {
	decisionCounter.WithLabelValues(string(op), string(reason)).Inc()
}
