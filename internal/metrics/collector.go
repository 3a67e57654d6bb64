// Package metrics adapts the core's hook SPI (pkg/kroxy.HookSet) onto
// Prometheus instrumentation, the way the teacher's flat Collector wired
// proxy events to prometheus.CounterVec/GaugeVec/HistogramVec. The shape
// is the same; the trigger points are the core's ConnectHook/
// DisconnectHook/WriteHook/ReadHook instead of the teacher's direct
// RecordConnection/RecordBytes/RecordRequest calls from its connection
// loop.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements kroxy.ConnectHook, kroxy.DisconnectHook,
// kroxy.WriteHook, and kroxy.ReadHook, and also implements
// prometheus.Collector so it can be registered directly with a registry.
type Collector struct {
	connectionsActive *prometheus.GaugeVec
	connectionsTotal  *prometheus.CounterVec
	bytesTotal        *prometheus.CounterVec
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	connectErrors     *prometheus.CounterVec
	connectDuration   *prometheus.HistogramVec
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		connectionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kroxy_connections_active",
				Help: "Number of active client connections",
			},
			[]string{"virtual_cluster"},
		),
		connectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kroxy_connections_total",
				Help: "Total number of client connections",
			},
			[]string{"virtual_cluster"},
		),
		bytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kroxy_bytes_total",
				Help: "Total bytes transferred",
			},
			[]string{"virtual_cluster", "direction"},
		),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kroxy_requests_total",
				Help: "Total Kafka API requests",
			},
			[]string{"virtual_cluster", "api_key"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kroxy_request_duration_seconds",
				Help:    "Request/response leg duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"virtual_cluster", "api_key"},
		),
		connectErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kroxy_upstream_connect_errors_total",
				Help: "Total failed upstream connect attempts",
			},
			[]string{"virtual_cluster"},
		),
		connectDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kroxy_upstream_connect_duration_seconds",
				Help:    "Upstream dial duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"virtual_cluster"},
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.connectionsActive.Describe(ch)
	c.connectionsTotal.Describe(ch)
	c.bytesTotal.Describe(ch)
	c.requestsTotal.Describe(ch)
	c.requestDuration.Describe(ch)
	c.connectErrors.Describe(ch)
	c.connectDuration.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.connectionsActive.Collect(ch)
	c.connectionsTotal.Collect(ch)
	c.bytesTotal.Collect(ch)
	c.requestsTotal.Collect(ch)
	c.requestDuration.Collect(ch)
	c.connectErrors.Collect(ch)
	c.connectDuration.Collect(ch)
}

// OnConnect implements kroxy.ConnectHook: fired once the backend dial for a
// connection resolves (success or failure).
func (c *Collector) OnConnect(virtualCluster, remoteAddr string, err error, dt time.Duration) {
	c.connectionsActive.WithLabelValues(virtualCluster).Inc()
	c.connectionsTotal.WithLabelValues(virtualCluster).Inc()
	c.connectDuration.WithLabelValues(virtualCluster).Observe(dt.Seconds())
	if err != nil {
		c.connectErrors.WithLabelValues(virtualCluster).Inc()
	}
}

// OnDisconnect implements kroxy.DisconnectHook.
func (c *Collector) OnDisconnect(virtualCluster, remoteAddr string) {
	c.connectionsActive.WithLabelValues(virtualCluster).Dec()
}

// OnWrite implements kroxy.WriteHook: fired for every request frame the
// frontend forwards upstream.
func (c *Collector) OnWrite(virtualCluster string, apiKey int16, bytesWritten int, err error, dt time.Duration) {
	apiKeyStr := strconv.Itoa(int(apiKey))
	c.requestsTotal.WithLabelValues(virtualCluster, apiKeyStr).Inc()
	c.requestDuration.WithLabelValues(virtualCluster, apiKeyStr).Observe(dt.Seconds())
	c.bytesTotal.WithLabelValues(virtualCluster, "egress").Add(float64(bytesWritten))
}

// OnRead implements kroxy.ReadHook: fired for every response frame the
// backend reads from the broker.
func (c *Collector) OnRead(virtualCluster string, apiKey int16, bytesRead int, err error, dt time.Duration) {
	c.bytesTotal.WithLabelValues(virtualCluster, "ingress").Add(float64(bytesRead))
}
