package cache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusObserver exports accessor events and backend connectivity as
// Prometheus metrics. Keys are reduced to their [Namespace] so label
// cardinality stays bounded by the set of resources.
type PrometheusObserver struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	fetches   *prometheus.HistogramVec
	connected prometheus.Gauge
}

var _ Observer = (*PrometheusObserver)(nil)

// NewPrometheusObserver creates the cache metrics and registers them with reg.
func NewPrometheusObserver(reg prometheus.Registerer) (*PrometheusObserver, error) {
	o := &PrometheusObserver{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sunsquirrel",
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Cache lookups by key namespace and result (hit or miss).",
		}, []string{"namespace", "result"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sunsquirrel",
			Subsystem: "cache",
			Name:      "errors_total",
			Help:      "Degraded cache operations by key namespace and step.",
		}, []string{"namespace", "op"}),
		fetches: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sunsquirrel",
			Subsystem: "cache",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of fetches run on cache misses.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"namespace", "outcome"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sunsquirrel",
			Subsystem: "cache",
			Name:      "backend_connected",
			Help:      "1 while the shared cache backend is connected, 0 otherwise.",
		}),
	}

	for _, c := range []prometheus.Collector{o.requests, o.errors, o.fetches, o.connected} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *PrometheusObserver) Hit(key string) {
	o.requests.WithLabelValues(Namespace(key), "hit").Inc()
}

func (o *PrometheusObserver) Miss(key string) {
	o.requests.WithLabelValues(Namespace(key), "miss").Inc()
}

func (o *PrometheusObserver) Fetched(key string, took time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	o.fetches.WithLabelValues(Namespace(key), outcome).Observe(took.Seconds())
}

func (o *PrometheusObserver) Error(key string, op Op, _ error) {
	o.errors.WithLabelValues(Namespace(key), string(op)).Inc()
}

// ObserveState tracks Client connectivity. Pass it as
// ClientConfig.OnStateChange.
func (o *PrometheusObserver) ObserveState(s State) {
	if s == Connected {
		o.connected.Set(1)
		return
	}
	o.connected.Set(0)
}
