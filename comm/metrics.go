package comm

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts traffic per rank. A nil *Metrics records nothing.
type Metrics struct {
	Messages *prometheus.CounterVec // by rank, op
	Bytes    *prometheus.CounterVec // by rank, op
	RingHops *prometheus.CounterVec // by rank
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// yields working but unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "drude",
			Subsystem: "comm",
			Name:      "messages_total",
			Help:      "Point-to-point messages sent, by operation.",
		}, []string{"rank", "op"}),
		Bytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "drude",
			Subsystem: "comm",
			Name:      "bytes_total",
			Help:      "Payload bytes sent, by operation.",
		}, []string{"rank", "op"}),
		RingHops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "drude",
			Subsystem: "comm",
			Name:      "ring_hops_total",
			Help:      "Ring buffer hops completed.",
		}, []string{"rank"}),
	}
}

func (m *Metrics) sent(rank int, op string, n int) {
	if m == nil {
		return
	}
	r := strconv.Itoa(rank)
	m.Messages.WithLabelValues(r, op).Inc()
	m.Bytes.WithLabelValues(r, op).Add(float64(n))
}

func (m *Metrics) hop(rank int) {
	if m == nil {
		return
	}
	m.RingHops.WithLabelValues(strconv.Itoa(rank)).Inc()
}
