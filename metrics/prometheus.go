package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusConfig configures the Prometheus HTTP exporter.
type PrometheusConfig struct {
	// Namespace is an optional prefix prepended to all metric names
	// (e.g. "indra" produces "indra_router_custody").
	Namespace string
	// Path is the HTTP path to serve metrics on (default "/metrics").
	Path string
}

func DefaultPrometheusConfig() PrometheusConfig {
	return PrometheusConfig{Namespace: "indra", Path: "/metrics"}
}

// registrySnapshotCollector adapts a Registry's get-or-create Counter/Gauge/
// Histogram snapshot to a real prometheus.Collector, so a node's metrics are
// exposed through the actual client_golang exposition format rather than a
// hand-rolled text formatter.
type registrySnapshotCollector struct {
	registry  *Registry
	namespace string
}

// NewPrometheusHandler returns an http.Handler serving reg's metrics in
// Prometheus exposition format under cfg.Namespace.
func NewPrometheusHandler(reg *Registry, cfg PrometheusConfig) http.Handler {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(&registrySnapshotCollector{registry: reg, namespace: cfg.Namespace})
	return promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})
}

func (c *registrySnapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	// Dynamic metric set: no static descriptors, matching
	// prometheus.Collector's documented pattern for collectors whose
	// metric names aren't known ahead of time.
}

func (c *registrySnapshotCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.registry.Snapshot()
	for name, v := range snap {
		metricName := prometheusName(c.namespace, name)
		switch val := v.(type) {
		case int64:
			desc := prometheus.NewDesc(metricName, name, nil, nil)
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(val))
		case map[string]interface{}:
			for stat, sv := range val {
				f, ok := sv.(float64)
				if !ok {
					continue
				}
				desc := prometheus.NewDesc(metricName+"_"+stat, name+" "+stat, nil, nil)
				ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, f)
			}
		}
	}
}

func prometheusName(namespace, metric string) string {
	out := make([]byte, 0, len(namespace)+1+len(metric))
	out = append(out, namespace...)
	out = append(out, '_')
	for _, r := range metric {
		if r == '.' {
			out = append(out, '_')
		} else {
			out = append(out, byte(r))
		}
	}
	return string(out)
}
