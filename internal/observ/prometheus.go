package observ

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// The custom in-memory registry above (reg) remains the source of truth
// for the rich promotion-gate health computations in HealthHandler; this
// file mirrors every counter/gauge/histogram write into real Prometheus
// collectors so /metrics exposes a standard scrape surface alongside the
// JSON health view. Vectors are created lazily and keyed by name plus the
// sorted set of label keys seen for that name, since callers pass ad-hoc
// label maps rather than a fixed label schema declared up front.

var promMu sync.Mutex
var counterVecs = map[string]*prometheus.CounterVec{}
var gaugeVecs = map[string]*prometheus.GaugeVec{}
var histVecs = map[string]*prometheus.HistogramVec{}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func labelValues(names []string, labels map[string]string) prometheus.Labels {
	out := make(prometheus.Labels, len(names))
	for _, n := range names {
		out[n] = labels[n]
	}
	return out
}

func vecKey(name string, names []string) string {
	return name + "|" + canonLabelNames(names)
}

func canonLabelNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ","
		}
		out += n
	}
	return out
}

func promCounter(name string, labels map[string]string) prometheus.Counter {
	names := labelNames(labels)
	key := vecKey(name, names)

	promMu.Lock()
	defer promMu.Unlock()

	vec, ok := counterVecs[key]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: sanitizeMetricName(name), Help: name}, names)
		prometheus.MustRegister(vec)
		counterVecs[key] = vec
	}
	return vec.With(labelValues(names, labels))
}

func promGauge(name string, labels map[string]string) prometheus.Gauge {
	names := labelNames(labels)
	key := vecKey(name, names)

	promMu.Lock()
	defer promMu.Unlock()

	vec, ok := gaugeVecs[key]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: sanitizeMetricName(name), Help: name}, names)
		prometheus.MustRegister(vec)
		gaugeVecs[key] = vec
	}
	return vec.With(labelValues(names, labels))
}

func promHistogram(name string, labels map[string]string) prometheus.Observer {
	names := labelNames(labels)
	key := vecKey(name, names)

	promMu.Lock()
	defer promMu.Unlock()

	vec, ok := histVecs[key]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: sanitizeMetricName(name), Help: name}, names)
		prometheus.MustRegister(vec)
		histVecs[key] = vec
	}
	return vec.With(labelValues(names, labels))
}

// sanitizeMetricName maps our loose event-name convention onto
// Prometheus's stricter metric-name charset (letters, digits,
// underscores), since call sites use names like "quote_requests_total"
// that are already compliant but some use dots/dashes.
func sanitizeMetricName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
