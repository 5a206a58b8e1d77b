package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "weather_imaging"

// Metrics holds the Prometheus counters, histograms, and gauges for the job
// pipeline. API and worker processes share one set; each only moves the
// series it owns.
type Metrics struct {
	// Submission metrics.
	JobsSubmitted  prometheus.Counter
	SubmitFailures *prometheus.CounterVec // labels: reason={upstream,transport}

	// Queue metrics, labelled by queue name.
	MessagesConsumed   *prometheus.CounterVec
	MessagesAcked      *prometheus.CounterVec
	MessagesDropped    *prometheus.CounterVec
	MessagesRetried    *prometheus.CounterVec
	EnvelopesPublished *prometheus.CounterVec
	WorkerRunning      *prometheus.GaugeVec

	// Render metrics.
	ArtifactsUploaded prometheus.Counter
	RenderDuration    prometheus.Histogram

	// Upstream metrics.
	UpstreamRequests *prometheus.CounterVec   // labels: source={feed,photo}, outcome={success,error}
	UpstreamDuration *prometheus.HistogramVec // labels: source

	// Status metrics.
	StatusPolls *prometheus.CounterVec // labels: state={pending,ready,error}
	LinksIssued prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics that are not registered anywhere, so
// tests can build as many as they like.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		JobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Total jobs accepted and enqueued.",
		}),
		SubmitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submit_failures_total",
			Help:      "Job submissions that failed, by reason.",
		}, []string{"reason"}),
		MessagesConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_consumed_total",
			Help:      "Messages received from a queue.",
		}, []string{"queue"}),
		MessagesAcked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_acked_total",
			Help:      "Messages handled successfully and acknowledged.",
		}, []string{"queue"}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Messages acknowledged without effect because they can never succeed.",
		}, []string{"queue"}),
		MessagesRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_retried_total",
			Help:      "Handler attempts that failed and were scheduled for redelivery.",
		}, []string{"queue"}),
		EnvelopesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_published_total",
			Help:      "Envelopes published to a queue.",
		}, []string{"queue"}),
		WorkerRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_running",
			Help:      "Number of consumer loops currently running per queue.",
		}, []string{"queue"}),
		ArtifactsUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_uploaded_total",
			Help:      "Rendered PNG artifacts written to the object store.",
		}),
		RenderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Time spent drawing and encoding one station image.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Requests to the weather feed and photo source by outcome.",
		}, []string{"source", "outcome"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_duration_seconds",
			Help:      "Upstream request duration in seconds, retries included.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"source"}),
		StatusPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_polls_total",
			Help:      "Job status queries by resulting state.",
		}, []string{"state"}),
		LinksIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_issued_total",
			Help:      "Signed artifact links issued.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.JobsSubmitted,
		m.SubmitFailures,
		m.MessagesConsumed,
		m.MessagesAcked,
		m.MessagesDropped,
		m.MessagesRetried,
		m.EnvelopesPublished,
		m.WorkerRunning,
		m.ArtifactsUploaded,
		m.RenderDuration,
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.StatusPolls,
		m.LinksIssued,
	}
}
