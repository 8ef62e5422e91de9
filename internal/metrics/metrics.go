// Package metrics exposes Prometheus instrumentation for the stream
// pipelines. Counters survive session removal, the state gauge does not.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/G1deonChan/mpdstreaming/internal/pipeline"
)

var (
	sessionsByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mpdstreaming",
		Name:      "sessions",
		Help:      "Number of pipeline sessions per state.",
	}, []string{"state"})

	restartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mpdstreaming",
		Name:      "session_restarts_total",
		Help:      "Authorized pipeline restarts per stream.",
	}, []string{"stream"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mpdstreaming",
		Name:      "pipeline_errors_total",
		Help:      "Classified pipeline errors per stream and kind.",
	}, []string{"stream", "kind"})

	mu     sync.Mutex
	states = map[string]pipeline.State{}
)

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SessionUpdate records a session state transition.
func SessionUpdate(prev, next pipeline.Session) {
	mu.Lock()
	if state, ok := states[next.StreamID]; ok {
		sessionsByState.WithLabelValues(string(state)).Dec()
	}
	states[next.StreamID] = next.State
	sessionsByState.WithLabelValues(string(next.State)).Inc()
	mu.Unlock()

	if next.RestartCount > prev.RestartCount {
		restartsTotal.WithLabelValues(next.StreamID).Inc()
	}
	if next.State == pipeline.StateDegraded && prev.State != pipeline.StateDegraded {
		errorsTotal.WithLabelValues(next.StreamID, string(next.LastErrorKind)).Inc()
	}
}

// SessionGone drops the session from the state gauge.
func SessionGone(streamID string) {
	mu.Lock()
	defer mu.Unlock()

	if state, ok := states[streamID]; ok {
		sessionsByState.WithLabelValues(string(state)).Dec()
		delete(states, streamID)
	}
}
