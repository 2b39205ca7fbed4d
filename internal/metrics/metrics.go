package metrics

import (
	"net/http"

	"github.com/firefart/dmarcingest/internal/dmarc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dmarcingest"

// Collector records ingestion metrics into its own registry.
//
// Metrics:
//   - dmarcingest_documents_total: processed documents by tier and outcome
//   - dmarcingest_validation_failures_total: failed validators by kind
//   - dmarcingest_persisted_reports_total: reports written to the store
//   - dmarcingest_persisted_records_total: records written to the store
type Collector struct {
	registry *prometheus.Registry

	documents          *prometheus.CounterVec
	validationFailures *prometheus.CounterVec
	persistedReports   prometheus.Counter
	persistedRecords   prometheus.Counter
}

var _ dmarc.Recorder = (*Collector)(nil)

// New creates a Collector. Go runtime and process collectors are registered
// alongside the ingestion metrics.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		documents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "documents_total",
				Help:      "Total number of processed report documents",
			},
			[]string{"tier", "outcome"},
		),
		validationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_failures_total",
				Help:      "Total number of failed validators",
			},
			[]string{"kind"},
		),
		persistedReports: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persisted_reports_total",
				Help:      "Total number of reports written to the store",
			},
		),
		persistedRecords: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persisted_records_total",
				Help:      "Total number of records written to the store",
			},
		),
	}

	c.registry.MustRegister(
		c.documents,
		c.validationFailures,
		c.persistedReports,
		c.persistedRecords,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) ObserveDocument(tier, outcome string) {
	c.documents.WithLabelValues(tier, outcome).Inc()
}

func (c *Collector) ObserveValidationFailure(kind string) {
	c.validationFailures.WithLabelValues(kind).Inc()
}

func (c *Collector) ObservePersisted(reports, records int) {
	c.persistedReports.Add(float64(reports))
	c.persistedRecords.Add(float64(records))
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
