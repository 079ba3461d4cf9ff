package transfer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the counters of one run. Each run gets its own registry so
// the textfile written at the end only holds that run. A nil *Metrics records nothing.
type Metrics struct {
	registry     *prometheus.Registry
	attempts     *prometheus.CounterVec
	payloads     *prometheus.CounterVec
	payloadBytes *prometheus.HistogramVec
	latency      *prometheus.HistogramVec
	records      *prometheus.CounterVec
	exported     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bourne",
			Name:      "attempts_total",
			Help:      "Import attempts by object type and final attempt state.",
		}, []string{"object", "state"}),
		payloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bourne",
			Name:      "payloads_total",
			Help:      "Payloads sent to the remote import endpoint.",
		}, []string{"object", "operation", "status"}),
		payloadBytes: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bourne",
			Name:      "payload_bytes",
			Help:      "Serialized size of the record list of each payload.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		}, []string{"object"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bourne",
			Name:      "payload_duration_seconds",
			Help:      "Duration of remote import calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"object"}),
		records: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bourne",
			Name:      "record_results_total",
			Help:      "Record results reported by the remote import endpoint.",
		}, []string{"object", "result"}),
		exported: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bourne",
			Name:      "exported_records_total",
			Help:      "Records written to the staging area.",
		}, []string{"object"}),
	}
}

// Registry returns the registry the run's metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) observePayload(objecttype string, operation Operation, size int, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.payloads.WithLabelValues(objecttype, string(operation), status).Inc()
	m.payloadBytes.WithLabelValues(objecttype).Observe(float64(size))
	m.latency.WithLabelValues(objecttype).Observe(d.Seconds())
}

func (m *Metrics) observeAttempt(objecttype string, state AttemptState) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(objecttype, state.String()).Inc()
}

func (m *Metrics) observeOutcome(o TransferOutcome) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(o.ObjectType, string(ResultSuccess)).Add(float64(o.Success))
	m.records.WithLabelValues(o.ObjectType, string(ResultFailed)).Add(float64(o.Failure))
}

func (m *Metrics) observeExport(objecttype string, count int) {
	if m == nil {
		return
	}
	m.exported.WithLabelValues(objecttype).Add(float64(count))
}

// WriteTextfile writes the run's metrics in the text exposition format, for the
// node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
