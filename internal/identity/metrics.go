package identity

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSuccess  = "success"
	outcomeConflict = "conflict"
	outcomeError    = "error"
)

var (
	storeWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_store_writes_total",
			Help: "Create, update and delete calls by store, operation and outcome.",
		},
		[]string{"store", "op", "outcome"},
	)

	storeConcurrencyFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_store_concurrency_failures_total",
			Help: "Writes rejected because the row changed since it was loaded.",
		},
		[]string{"store"},
	)
)

// RegisterMetrics adds the store collectors to reg. Registering twice is not an error.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{storeWritesTotal, storeConcurrencyFailures} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}

func observeWrite(store, op, outcome string) {
	storeWritesTotal.WithLabelValues(store, op, outcome).Inc()
	if outcome == outcomeConflict {
		storeConcurrencyFailures.WithLabelValues(store).Inc()
	}
}
