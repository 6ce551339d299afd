package metrics

import (
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// path is the HTTP route where Prometheus metrics are exposed.
	path = "/metrics"
	// registry is the private Prometheus registry used by the server.
	registry = prometheus.NewRegistry()
	// runtimeMetrics collects Go runtime stats (GC, goroutines, mem, etc.).
	runtimeMetrics = collectors.NewGoCollector()
	// processMetrics collects process-level stats (CPU, RSS, fds, etc.).
	processMetrics = collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})

	// requestsTotal counts API requests by HTTP method and response status.
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fss3_requests_total",
		Help: "Total S3 API requests served, labeled by method and status code.",
	}, []string{"method", "code"})

	// objectBytesWritten counts bytes persisted into object blobs.
	objectBytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fss3_object_bytes_written_total",
		Help: "Total bytes written to object storage.",
	})

	// objectBytesRead counts bytes streamed out of object blobs.
	objectBytesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fss3_object_bytes_read_total",
		Help: "Total bytes read from object storage.",
	})

	// eventsPublished counts bucket notification events by event name.
	eventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fss3_events_published_total",
		Help: "Total bucket notification events published, labeled by event name.",
	}, []string{"event"})
)

func init() {
	registry.MustRegister(runtimeMetrics)
	registry.MustRegister(processMetrics)
	registry.MustRegister(requestsTotal)
	registry.MustRegister(objectBytesWritten)
	registry.MustRegister(objectBytesRead)
	registry.MustRegister(eventsPublished)
}

// RegisterMetricEndpoint mounts the Prometheus handler for the private
// registry at the standard metrics path on the provided router.
func RegisterMetricEndpoint(router *mux.Router) {
	r := router.PathPrefix("/").Subrouter()
	r.Handle(path, promhttp.HandlerFor(
		registry,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		},
	))
}

// RegisterPrometheusCollector registers a custom collector with registry.
func RegisterPrometheusCollector(c prometheus.Collector) error {
	return registry.Register(c)
}

// ObserveRequest records a completed API request.
func ObserveRequest(method string, status int) {
	requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// AddObjectBytesWritten records n bytes written to blob storage.
func AddObjectBytesWritten(n int64) {
	if n > 0 {
		objectBytesWritten.Add(float64(n))
	}
}

// AddObjectBytesRead records n bytes read from blob storage.
func AddObjectBytesRead(n int64) {
	if n > 0 {
		objectBytesRead.Add(float64(n))
	}
}

// ObserveEvent records a published bucket notification event.
func ObserveEvent(name string) {
	eventsPublished.WithLabelValues(name).Inc()
}
