// Package metricx exposes worker, hub and queue activity as Prometheus
// metrics on an injected registry.
package metricx

import (
	"context"
	"net/http"
	"time"

	"github.com/Abraxas-365/jobrelay/pkg/jobx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "jobrelay"

// Metrics holds the collectors fed by workers and the hub. It implements
// jobx.WorkerObserver and notifx.Observer.
type Metrics struct {
	jobsProcessed  *prometheus.CounterVec
	jobDuration    prometheus.Histogram
	hubClients     prometheus.Gauge
	hubBroadcasts  prometheus.Counter
	hubSlowClients prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Job attempts finished by workers, by outcome.",
		}, []string{"outcome"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of job attempts, executor plus reporting.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
		hubClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "clients",
			Help:      "Connected websocket clients.",
		}),
		hubBroadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "broadcasts_total",
			Help:      "Messages fanned out by the hub.",
		}),
		hubSlowClients: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "slow_consumers_total",
			Help:      "Clients dropped because their send buffer was full.",
		}),
	}
	reg.MustRegister(m.jobsProcessed, m.jobDuration, m.hubClients, m.hubBroadcasts, m.hubSlowClients)
	return m
}

// JobFinished implements jobx.WorkerObserver.
func (m *Metrics) JobFinished(outcome jobx.Outcome, elapsed time.Duration) {
	m.jobsProcessed.WithLabelValues(string(outcome)).Inc()
	m.jobDuration.Observe(elapsed.Seconds())
}

// ClientsChanged implements notifx.Observer.
func (m *Metrics) ClientsChanged(n int) { m.hubClients.Set(float64(n)) }

// Broadcasted implements notifx.Observer.
func (m *Metrics) Broadcasted() { m.hubBroadcasts.Inc() }

// SlowConsumer implements notifx.Observer.
func (m *Metrics) SlowConsumer() { m.hubSlowClients.Inc() }

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// StatsFunc reads queue counters on demand.
type StatsFunc func(ctx context.Context) (jobx.Stats, error)

// QueueCollector reads Stats on every scrape and keeps no state between
// scrapes.
type QueueCollector struct {
	stats   StatsFunc
	timeout time.Duration

	up         *prometheus.Desc
	length     *prometheus.Desc
	processing *prometheus.Desc
	byPriority *prometheus.Desc
}

var _ prometheus.Collector = (*QueueCollector)(nil)

// NewQueueCollector creates a collector over stats. Each scrape is bounded
// by timeout.
func NewQueueCollector(stats StatsFunc, timeout time.Duration) *QueueCollector {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &QueueCollector{
		stats:   stats,
		timeout: timeout,
		up: prometheus.NewDesc(prometheus.BuildFQName(namespace, "queue", "up"),
			"Whether the last queue stats read succeeded.", nil, nil),
		length: prometheus.NewDesc(prometheus.BuildFQName(namespace, "queue", "length"),
			"Jobs waiting in the priority queue.", nil, nil),
		processing: prometheus.NewDesc(prometheus.BuildFQName(namespace, "queue", "processing"),
			"Jobs claimed by workers.", nil, nil),
		byPriority: prometheus.NewDesc(prometheus.BuildFQName(namespace, "queue", "pending"),
			"Jobs waiting, by priority band.", []string{"priority"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *QueueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.up
	ch <- c.length
	ch <- c.processing
	ch <- c.byPriority
}

// Collect implements prometheus.Collector.
func (c *QueueCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	s, err := c.stats(ctx)
	if err != nil {
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1)
	ch <- prometheus.MustNewConstMetric(c.length, prometheus.GaugeValue, float64(s.QueueLength))
	ch <- prometheus.MustNewConstMetric(c.processing, prometheus.GaugeValue, float64(s.ProcessingCount))
	ch <- prometheus.MustNewConstMetric(c.byPriority, prometheus.GaugeValue, float64(s.HighPriority), jobx.PriorityHigh.String())
	ch <- prometheus.MustNewConstMetric(c.byPriority, prometheus.GaugeValue, float64(s.NormalPriority), jobx.PriorityNormal.String())
	ch <- prometheus.MustNewConstMetric(c.byPriority, prometheus.GaugeValue, float64(s.LowPriority), jobx.PriorityLow.String())
}
