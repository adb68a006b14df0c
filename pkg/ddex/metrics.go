package ddex

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the instrumentation seam the Security Gate, Parser, and
// Builder report through. The library never starts its own HTTP server or
// registry; callers register a Metrics implementation's collectors on
// their own prometheus.Registerer.
type Metrics interface {
	ObserveParse(d time.Duration, err error)
	ObserveBuild(d time.Duration, err error)
	IncSecurityRejection(kind string)
	IncLinkingWarning()
}

type noopMetrics struct{}

func (noopMetrics) ObserveParse(time.Duration, error) {}
func (noopMetrics) ObserveBuild(time.Duration, error) {}
func (noopMetrics) IncSecurityRejection(string)       {}
func (noopMetrics) IncLinkingWarning()                {}

// NewNoopMetrics returns a Metrics implementation that discards everything,
// used as the default when a caller does not supply one.
func NewNoopMetrics() Metrics { return noopMetrics{} }

// PrometheusMetrics is the default production Metrics implementation.
type PrometheusMetrics struct {
	parseDuration      prometheus.Histogram
	buildDuration      prometheus.Histogram
	securityRejections *prometheus.CounterVec
	linkingWarnings    prometheus.Counter
}

// NewPrometheusMetrics constructs a PrometheusMetrics and registers its
// collectors on reg. Pass prometheus.DefaultRegisterer to use the global
// registry, or a fresh prometheus.NewRegistry() to isolate it.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		parseDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ddex",
			Subsystem: "codec",
			Name:      "parse_duration_seconds",
			Help:      "Duration of Parser.Parse calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ddex",
			Subsystem: "codec",
			Name:      "build_duration_seconds",
			Help:      "Duration of Build calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		securityRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ddex",
			Subsystem: "codec",
			Name:      "security_rejections_total",
			Help:      "Documents rejected by the Security Gate, by reason.",
		}, []string{"kind"}),
		linkingWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ddex",
			Subsystem: "codec",
			Name:      "linking_warnings_total",
			Help:      "Dangling reference warnings emitted during parsing.",
		}),
	}
	reg.MustRegister(m.parseDuration, m.buildDuration, m.securityRejections, m.linkingWarnings)
	return m
}

func (m *PrometheusMetrics) ObserveParse(d time.Duration, err error) {
	m.parseDuration.Observe(d.Seconds())
}

func (m *PrometheusMetrics) ObserveBuild(d time.Duration, err error) {
	m.buildDuration.Observe(d.Seconds())
}

func (m *PrometheusMetrics) IncSecurityRejection(kind string) {
	m.securityRejections.WithLabelValues(kind).Inc()
}

func (m *PrometheusMetrics) IncLinkingWarning() {
	m.linkingWarnings.Inc()
}
