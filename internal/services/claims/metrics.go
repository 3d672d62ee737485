package claims

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	claimsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recovery_claims_processed_total",
		Help: "Successfully paid claims by token.",
	}, []string{"token"})

	claimsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recovery_claims_rejected_total",
		Help: "Rejected claims by reason.",
	}, []string{"reason"})

	roundsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recovery_rounds_created_total",
		Help: "Rounds created since process start.",
	})
)
