// Package metrics defines the Prometheus collectors exported over HTTP for
// operational scraping. Names are fixed by spec §4.5 for compatibility with
// existing dashboards/alerts.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the service exports. Variant-B-only
// collectors are still registered unconditionally; a cache-binding
// deployment simply never increments them.
type Metrics struct {
	MessagesTotal                 prometheus.Counter
	MessagesRejectedTotal         prometheus.Counter
	MessagesPublishedNodeTotal    prometheus.Counter
	MessagesPublishedBeehiveTotal prometheus.Counter

	MessagesBackloggedTotal prometheus.Counter
	MessagesExpiredTotal    prometheus.Counter
	PodsExpiredTotal        prometheus.Counter
	MessagesInBacklog       prometheus.Gauge
	PodsInBacklog           prometheus.Gauge

	KubernetesPodEventsTotal    prometheus.Counter
	KubernetesAPIExceptionTotal prometheus.Counter
	KubernetesLastExceptionTime prometheus.Gauge

	registry *prometheus.Registry
}

// New builds and registers the full metric set against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		MessagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wes_data_service_messages_total",
			Help: "Total number of deliveries received.",
		}),
		MessagesRejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wes_data_service_messages_rejected_total",
			Help: "Total number of deliveries rejected.",
		}),
		MessagesPublishedNodeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wes_data_service_messages_published_node_total",
			Help: "Total number of messages published to the node topic exchange.",
		}),
		MessagesPublishedBeehiveTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wes_data_service_messages_published_beehive_total",
			Help: "Total number of messages published to the beehive exchange.",
		}),
		MessagesBackloggedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wes_data_service_messages_backlogged_total",
			Help: "Total number of deliveries held pending pod metadata binding.",
		}),
		MessagesExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wes_data_service_messages_expired_total",
			Help: "Total number of backlogged deliveries rejected on expiry.",
		}),
		PodsExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wes_data_service_pods_expired_total",
			Help: "Total number of pod states dropped on expiry.",
		}),
		MessagesInBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wes_data_service_messages_in_backlog",
			Help: "Current number of deliveries held pending pod metadata binding.",
		}),
		PodsInBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wes_data_service_pods_in_backlog",
			Help: "Current number of pod UIDs with a non-empty backlog.",
		}),
		KubernetesPodEventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wes_data_service_kubernetes_pod_events_total",
			Help: "Total number of pod events received from the watch stream.",
		}),
		KubernetesAPIExceptionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wes_data_service_kubernetes_api_exception_total",
			Help: "Total number of Kubernetes API exceptions surfaced by the pod watcher.",
		}),
		KubernetesLastExceptionTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wes_data_service_kubernetes_last_exception_time",
			Help: "Unix timestamp of the last Kubernetes API exception.",
		}),
		registry: reg,
	}

	reg.MustRegister(
		m.MessagesTotal,
		m.MessagesRejectedTotal,
		m.MessagesPublishedNodeTotal,
		m.MessagesPublishedBeehiveTotal,
		m.MessagesBackloggedTotal,
		m.MessagesExpiredTotal,
		m.PodsExpiredTotal,
		m.MessagesInBacklog,
		m.PodsInBacklog,
		m.KubernetesPodEventsTotal,
		m.KubernetesAPIExceptionTotal,
		m.KubernetesLastExceptionTime,
	)
	return m
}

// Handler returns the HTTP handler for GET / that serves the Prometheus text
// exposition format, per spec §6.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// The methods below adapt *Metrics to the narrow counter interfaces the
// handler and podwatch packages depend on, so none of them needs to import
// prometheus directly.

func (m *Metrics) IncTotal()                     { m.MessagesTotal.Inc() }
func (m *Metrics) IncRejected()                  { m.MessagesRejectedTotal.Inc() }
func (m *Metrics) IncPublishedNode()             { m.MessagesPublishedNodeTotal.Inc() }
func (m *Metrics) IncPublishedBeehive()          { m.MessagesPublishedBeehiveTotal.Inc() }
func (m *Metrics) IncBacklogged()                { m.MessagesBackloggedTotal.Inc() }
func (m *Metrics) IncExpired()                   { m.MessagesExpiredTotal.Inc() }
func (m *Metrics) IncPodsExpired()               { m.PodsExpiredTotal.Inc() }
func (m *Metrics) SetMessagesInBacklog(n float64) { m.MessagesInBacklog.Set(n) }
func (m *Metrics) SetPodsInBacklog(n float64)     { m.PodsInBacklog.Set(n) }
func (m *Metrics) IncPodEvents()                  { m.KubernetesPodEventsTotal.Inc() }
func (m *Metrics) IncAPIExceptions()              { m.KubernetesAPIExceptionTotal.Inc() }
func (m *Metrics) SetLastExceptionTime(unixSeconds float64) {
	m.KubernetesLastExceptionTime.Set(unixSeconds)
}
