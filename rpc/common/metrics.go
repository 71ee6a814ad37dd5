package common

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// --------------------------------------------------------------------------
// Server Metrics
// --------------------------------------------------------------------------

// Metrics holds the metrics recorded by the server. Every server owns its own set
// so that several servers (e.g. in tests) do not share counters.
type Metrics struct {
	set *metrics.Set

	ConnectionsAccepted *metrics.Counter
	ConnectionsRejected *metrics.Counter
	ProtocolErrors      *metrics.Counter
}

// NewMetrics creates an empty metrics set.
func NewMetrics() *Metrics {
	set := metrics.NewSet()
	return &Metrics{
		set:                 set,
		ConnectionsAccepted: set.NewCounter("kvsd_connections_accepted_total"),
		ConnectionsRejected: set.NewCounter("kvsd_connections_rejected_total"),
		ProtocolErrors:      set.NewCounter("kvsd_protocol_errors_total"),
	}
}

// Gauge registers a gauge whose value is read from f at scrape time.
func (m *Metrics) Gauge(name string, f func() float64) {
	m.set.GetOrCreateGauge(name, f)
}

// RequestDone counts a handled request of the given type and records its latency.
func (m *Metrics) RequestDone(msgType string, start time.Time) {
	m.set.GetOrCreateCounter(fmt.Sprintf(`kvsd_requests_total{type=%q}`, msgType)).Inc()
	m.set.GetOrCreateHistogram(fmt.Sprintf(`kvsd_request_duration_seconds{type=%q}`, msgType)).UpdateDuration(start)
}

// Failure counts a Fail reply with the given code.
func (m *Metrics) Failure(code string) {
	m.set.GetOrCreateCounter(fmt.Sprintf(`kvsd_failures_total{code=%q}`, code)).Inc()
}

// Counter returns the current value of the named counter (0 if it does not exist).
func (m *Metrics) Counter(name string) uint64 {
	return m.set.GetOrCreateCounter(name).Get()
}

// WritePrometheus writes all metrics in prometheus text format.
func (m *Metrics) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}

// ServeMetrics exposes m on http://<endpoint>/metrics until ctx is done.
func ServeMetrics(ctx context.Context, endpoint string, m *Metrics) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		m.WritePrometheus(w)
		metrics.WriteProcessMetrics(w)
	})

	srv := &http.Server{
		Addr:              endpoint,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
