package track

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce      sync.Once
	submissionsTotal *prometheus.CounterVec
	broadcastsTotal  *prometheus.CounterVec
	writeFailures    prometheus.Counter
)

// Submission result labels.
const (
	resultAccepted     = "accepted"
	resultStale        = "stale"
	resultUnknownAgent = "unknown_agent"
	resultDispatcher   = "dispatcher"
	resultInvalid      = "invalid"
)

func initMetrics() {
	metricsOnce.Do(func() {
		submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mapa",
			Subsystem: "track",
			Name:      "submissions_total",
			Help:      "Position and presence submissions by outcome",
		}, []string{"kind", "result"})

		broadcastsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mapa",
			Subsystem: "track",
			Name:      "broadcasts_total",
			Help:      "Events published to observer groups",
		}, []string{"event"})

		writeFailuresCounter := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mapa",
			Subsystem: "track",
			Name:      "write_failures_total",
			Help:      "Durable writes that failed while the event was still broadcast",
		})
		writeFailures = writeFailuresCounter

		for _, collector := range []prometheus.Collector{submissionsTotal, broadcastsTotal, writeFailuresCounter} {
			if err := prometheus.Register(collector); err != nil {
				if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
					switch v := are.ExistingCollector.(type) {
					case *prometheus.CounterVec:
						if collector == submissionsTotal {
							submissionsTotal = v
						} else if collector == broadcastsTotal {
							broadcastsTotal = v
						}
					case prometheus.Counter:
						if collector == writeFailuresCounter {
							writeFailures = v
						}
					}
				}
			}
		}
	})
}

func countSubmission(kind, result string) {
	if submissionsTotal != nil {
		submissionsTotal.WithLabelValues(kind, result).Inc()
	}
}

func countBroadcast(event string) {
	if broadcastsTotal != nil {
		broadcastsTotal.WithLabelValues(event).Inc()
	}
}

func countWriteFailure() {
	if writeFailures != nil {
		writeFailures.Inc()
	}
}
