// Package metrics exposes signal bus activity as prometheus metrics.
package metrics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/Iron-Ham/coms/internal/errors"
	"github.com/Iron-Ham/coms/internal/signal"
)

// Collector counts sends, deliveries, failures, and live subscriptions for
// one bus. Each collector owns its registry so several buses can be measured
// in one process.
type Collector struct {
	registry *prometheus.Registry

	SignalsSent         *prometheus.CounterVec
	Deliveries          *prometheus.CounterVec
	HandlerFailures     *prometheus.CounterVec
	SubscriptionsActive prometheus.Gauge
}

// NewCollector creates a collector with a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		SignalsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coms_signals_sent_total",
			Help: "Total number of signals accepted by the bus, by delivery mode",
		}, []string{"mode"}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coms_deliveries_total",
			Help: "Total number of handler invocations, by delivery mode",
		}, []string{"mode"}),
		HandlerFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coms_handler_failures_total",
			Help: "Total number of handler failures recovered during dispatch, by topic",
		}, []string{"topic"}),
		SubscriptionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "coms_subscriptions_active",
			Help: "Number of subscriptions currently registered",
		}),
	}
}

// Registry returns the registry the collector's metrics live in.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Hooks returns bus hooks that feed the collector.
func (c *Collector) Hooks() signal.Hooks {
	return signal.Hooks{
		OnSend: func(e signal.Event, _ any) {
			c.SignalsSent.WithLabelValues(e.Mode.String()).Inc()
		},
		OnDeliver: func(e signal.Event, _ string) {
			c.Deliveries.WithLabelValues(e.Mode.String()).Inc()
		},
		OnFailure: func(err *errors.HandlerError) {
			topic := err.Topic
			if topic == "" {
				topic = "unknown"
			}
			c.HandlerFailures.WithLabelValues(topic).Inc()
		},
		OnSubscribe: func(string, string) {
			c.SubscriptionsActive.Inc()
		},
		OnUnsubscribe: func(string, string) {
			c.SubscriptionsActive.Dec()
		},
	}
}

// Snapshot gathers every series into a map keyed by
// name{label="value",...}. Unlabelled series use the bare name.
func (c *Collector) Snapshot() (map[string]float64, error) {
	families, err := c.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gathering metrics: %w", err)
	}

	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			out[seriesKey(mf.GetName(), m.GetLabel())] = metricValue(mf.GetType(), m)
		}
	}
	return out, nil
}

// SortedKeys returns the keys of a snapshot in lexical order.
func SortedKeys(snapshot map[string]float64) []string {
	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func seriesKey(name string, labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return name
	}
	parts := make([]string, 0, len(labels))
	for _, lp := range labels {
		parts = append(parts, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
	}
	return name + "{" + strings.Join(parts, ",") + "}"
}

func metricValue(kind dto.MetricType, m *dto.Metric) float64 {
	switch kind {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue()
	case dto.MetricType_UNTYPED:
		return m.GetUntyped().GetValue()
	default:
		return 0
	}
}
