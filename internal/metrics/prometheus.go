package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for dyngend.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	unitsActive     prometheus.GaugeFunc
	registryEntries prometheus.GaugeFunc

	vmsCompiledTotal    prometheus.Counter
	vmsDestroyedTotal   prometheus.Counter
	compileFailuresTotal prometheus.Counter

	pipelineDuration *prometheus.HistogramVec
	pipelinesTotal   *prometheus.CounterVec
	orphanedTotal    prometheus.Counter
}

var defaultBuckets = []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250, 500, 1000}

var promMetrics *PrometheusMetrics

// InitPrometheus wires the in-process Registry's gauges and a set of
// pipeline-facing counters/histograms into a fresh Prometheus registry.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: reg,

		unitsActive: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "units_active",
			Help:      "Number of live generator units",
		}, func() float64 { return float64(Default().unitsActive.Load()) }),

		registryEntries: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_entries",
			Help:      "Number of script registry entries",
		}, func() float64 { return float64(Default().registryEntries.Load()) }),

		vmsCompiledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vms_compiled_total",
			Help:      "Total VMs successfully compiled",
		}),

		vmsDestroyedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vms_destroyed_total",
			Help:      "Total VMs destroyed",
		}),

		compileFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compile_failures_total",
			Help:      "Total compile failures across all pipeline stage 2s",
		}),

		pipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_milliseconds",
			Help:      "Duration of a pipeline from submission to cleanup",
			Buckets:   buckets,
		}, []string{"kind", "success"}),

		pipelinesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipelines_total",
			Help:      "Total pipelines run, by kind and outcome",
		}, []string{"kind", "success"}),

		orphanedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipelines_orphaned_total",
			Help:      "Total pipelines whose unit died before stage 3",
		}),
	}

	reg.MustRegister(
		pm.unitsActive,
		pm.registryEntries,
		pm.vmsCompiledTotal,
		pm.vmsDestroyedTotal,
		pm.compileFailuresTotal,
		pm.pipelineDuration,
		pm.pipelinesTotal,
		pm.orphanedTotal,
	)

	promMetrics = pm
}

// RecordPipelineCompletion records a finished pipeline's duration and
// outcome. Called once from the pipeline's cleanup stage.
func RecordPipelineCompletion(kind string, success bool, orphaned bool, durationMs float64) {
	if promMetrics == nil {
		return
	}
	successLabel := "true"
	if !success {
		successLabel = "false"
	}
	promMetrics.pipelineDuration.WithLabelValues(kind, successLabel).Observe(durationMs)
	promMetrics.pipelinesTotal.WithLabelValues(kind, successLabel).Inc()
	if orphaned {
		promMetrics.orphanedTotal.Inc()
	}
}

// RecordVMCompiled increments the compiled-VM counter.
func RecordVMCompiled() {
	if promMetrics == nil {
		return
	}
	promMetrics.vmsCompiledTotal.Inc()
}

// RecordVMDestroyed increments the destroyed-VM counter.
func RecordVMDestroyed() {
	if promMetrics == nil {
		return
	}
	promMetrics.vmsDestroyedTotal.Inc()
}

// RecordCompileFailure increments the compile-failure counter.
func RecordCompileFailure() {
	if promMetrics == nil {
		return
	}
	promMetrics.compileFailuresTotal.Inc()
}

// Handler returns the Prometheus scrape handler, or a 404 handler if
// InitPrometheus has not been called (metrics disabled).
func Handler() http.Handler {
	if promMetrics == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}
