// Package observability exposes the core's counters and gauges through a
// Prometheus registry. Components record through the Metrics interface so
// tests can pass a no-op implementation.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the recording interface used by the pipeline, the router and
// the notification dispatcher.
type Metrics interface {
	MessagePersisted()
	MessageDelivered(count int)
	NotificationPushed()
	NotificationQueued()
	BacklogEvicted()
	BacklogSwept(count int)
}

// Collector is the Prometheus-backed Metrics implementation.
type Collector struct {
	messagesPersisted prometheus.Counter
	messagesDelivered prometheus.Counter
	notifications     *prometheus.CounterVec
	backlogEvicted    prometheus.Counter
	backlogSwept      prometheus.Counter
}

// NewCollector registers the core's metrics on reg. The connection gauges
// read live registry state on scrape instead of being pushed.
func NewCollector(reg prometheus.Registerer, connections, onlineUsers func() int) *Collector {
	c := &Collector{
		messagesPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatcore_messages_persisted_total",
			Help: "Messages durably written by the delivery pipeline",
		}),
		messagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatcore_messages_delivered_total",
			Help: "Room broadcast deliveries to individual subscribers",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatcore_notifications_total",
			Help: "Notification envelopes by delivery path",
		}, []string{"path"}),
		backlogEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatcore_backlog_evicted_total",
			Help: "Envelopes dropped by FIFO eviction on a full backlog",
		}),
		backlogSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatcore_backlog_swept_total",
			Help: "Envelopes purged by the TTL sweep",
		}),
	}

	reg.MustRegister(
		c.messagesPersisted,
		c.messagesDelivered,
		c.notifications,
		c.backlogEvicted,
		c.backlogSwept,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "chatcore_connections",
			Help: "Live websocket connections",
		}, func() float64 { return float64(connections()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "chatcore_online_users",
			Help: "Users with at least one live connection",
		}, func() float64 { return float64(onlineUsers()) }),
	)

	return c
}

func (c *Collector) MessagePersisted() { c.messagesPersisted.Inc() }

func (c *Collector) MessageDelivered(count int) {
	c.messagesDelivered.Add(float64(count))
}

func (c *Collector) NotificationPushed() {
	c.notifications.WithLabelValues("immediate").Inc()
}

func (c *Collector) NotificationQueued() {
	c.notifications.WithLabelValues("backlog").Inc()
}

func (c *Collector) BacklogEvicted() { c.backlogEvicted.Inc() }

func (c *Collector) BacklogSwept(count int) {
	c.backlogSwept.Add(float64(count))
}

// Noop records nothing. Handy default for tests and tools.
type Noop struct{}

func (Noop) MessagePersisted()      {}
func (Noop) MessageDelivered(int)   {}
func (Noop) NotificationPushed()    {}
func (Noop) NotificationQueued()    {}
func (Noop) BacklogEvicted()        {}
func (Noop) BacklogSwept(int)       {}
