// Package metrics exposes mqttc client statistics to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/augbari/mqttc"
)

// StatsSource is implemented by *mqttc.Client.
type StatsSource interface {
	ClientID() string
	Stats() mqttc.ClientStats
}

// Collector reads client statistics on every scrape.
type Collector struct {
	src StatsSource

	packetsSent     *prometheus.Desc
	packetsReceived *prometheus.Desc
	bytesSent       *prometheus.Desc
	bytesReceived   *prometheus.Desc
	reconnects      *prometheus.Desc
	inFlight        *prometheus.Desc
	pendingHandlers *prometheus.Desc
	connected       *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector for src. Metrics carry a client_id label.
func NewCollector(namespace string, src StatsSource) *Collector {
	if namespace == "" {
		namespace = "mqttc"
	}
	labels := prometheus.Labels{"client_id": src.ClientID()}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, labels)
	}

	return &Collector{
		src:             src,
		packetsSent:     desc("packets_sent_total", "MQTT packets written to the server"),
		packetsReceived: desc("packets_received_total", "MQTT packets read from the server"),
		bytesSent:       desc("bytes_sent_total", "Bytes written to the server"),
		bytesReceived:   desc("bytes_received_total", "Bytes read from the server"),
		reconnects:      desc("reconnect_attempts_total", "Automatic reconnection attempts"),
		inFlight:        desc("inflight_packets", "Outbound packets awaiting acknowledgment"),
		pendingHandlers: desc("pending_handler_calls", "Message handler calls waiting for a worker"),
		connected:       desc("connected", "1 when the client is connected"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.packetsSent
	ch <- c.packetsReceived
	ch <- c.bytesSent
	ch <- c.bytesReceived
	ch <- c.reconnects
	ch <- c.inFlight
	ch <- c.pendingHandlers
	ch <- c.connected
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()

	connected := 0.0
	if s.State == mqttc.StateConnected {
		connected = 1
	}

	ch <- prometheus.MustNewConstMetric(c.packetsSent, prometheus.CounterValue, float64(s.PacketsSent))
	ch <- prometheus.MustNewConstMetric(c.packetsReceived, prometheus.CounterValue, float64(s.PacketsReceived))
	ch <- prometheus.MustNewConstMetric(c.bytesSent, prometheus.CounterValue, float64(s.BytesSent))
	ch <- prometheus.MustNewConstMetric(c.bytesReceived, prometheus.CounterValue, float64(s.BytesReceived))
	ch <- prometheus.MustNewConstMetric(c.reconnects, prometheus.CounterValue, float64(s.ReconnectCount))
	ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, float64(s.InFlight))
	ch <- prometheus.MustNewConstMetric(c.pendingHandlers, prometheus.GaugeValue, float64(s.PendingHandlers))
	ch <- prometheus.MustNewConstMetric(c.connected, prometheus.GaugeValue, connected)
}

// Messages counts messages through client interceptors.
type Messages struct {
	Received        *prometheus.CounterVec
	Published       *prometheus.CounterVec
	PublishFailures *prometheus.CounterVec
	HandlerDuration *prometheus.HistogramVec
}

// NewMessages creates the message metrics and registers them with reg.
//
// Example:
//
//	m := metrics.NewMessages("mqttc", prometheus.DefaultRegisterer)
//	client := mqttc.NewClient(server,
//	    mqttc.WithHandlerInterceptor(m.HandlerInterceptor()),
//	    mqttc.WithPublishInterceptor(m.PublishInterceptor()))
func NewMessages(namespace string, reg prometheus.Registerer) *Messages {
	if namespace == "" {
		namespace = "mqttc"
	}
	m := &Messages{
		Received: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_received_total",
				Help:      "Messages passed to handlers",
			},
			[]string{"qos"},
		),
		Published: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_published_total",
				Help:      "Publish calls",
			},
			[]string{"qos"},
		),
		PublishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publish_failures_total",
				Help:      "Publishes that completed with an error",
			},
			[]string{"qos"},
		),
		HandlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "handler_duration_seconds",
				Help:      "Time spent in message handlers",
				Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"qos"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Received, m.Published, m.PublishFailures, m.HandlerDuration)
	}
	return m
}

// HandlerInterceptor counts and times handler calls.
func (m *Messages) HandlerInterceptor() mqttc.HandlerInterceptor {
	return func(next mqttc.MessageHandler) mqttc.MessageHandler {
		return func(c *mqttc.Client, msg mqttc.Message) {
			qos := qosLabel(msg.QoS)
			m.Received.WithLabelValues(qos).Inc()
			start := time.Now()
			next(c, msg)
			m.HandlerDuration.WithLabelValues(qos).Observe(time.Since(start).Seconds())
		}
	}
}

// PublishInterceptor counts publishes and their failures.
func (m *Messages) PublishInterceptor() mqttc.PublishInterceptor {
	return func(next mqttc.PublishFunc) mqttc.PublishFunc {
		return func(topic string, payload []byte, opts ...mqttc.PublishOption) mqttc.Token {
			var o mqttc.PublishOptions
			for _, opt := range opts {
				opt(&o)
			}
			qos := qosLabel(o.QoS)
			m.Published.WithLabelValues(qos).Inc()

			tok := next(topic, payload, opts...)
			go func() {
				<-tok.Done()
				if tok.Error() != nil {
					m.PublishFailures.WithLabelValues(qos).Inc()
				}
			}()
			return tok
		}
	}
}

func qosLabel(q mqttc.QoS) string {
	switch q {
	case mqttc.AtMostOnce:
		return "0"
	case mqttc.AtLeastOnce:
		return "1"
	case mqttc.ExactlyOnce:
		return "2"
	default:
		return "invalid"
	}
}
