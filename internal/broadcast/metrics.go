package broadcast

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Receive outcomes recorded in patientdb_envelopes_received_total.
const (
	ResultDelivered = "delivered"
	ResultSelf      = "self"
	ResultDuplicate = "duplicate"
	ResultIdle      = "idle"
	ResultMalformed = "malformed"
)

// Metrics counts broadcaster traffic.
type Metrics struct {
	EnvelopesPosted   *prometheus.CounterVec
	EnvelopesReceived *prometheus.CounterVec
	PostFailures      prometheus.Counter
}

// NewMetrics registers the broadcaster counters with reg. A nil reg creates
// unregistered counters.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EnvelopesPosted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "patientdb_envelopes_posted_total",
			Help: "Total number of envelopes posted to the broadcast medium",
		}, []string{"kind"}),
		EnvelopesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "patientdb_envelopes_received_total",
			Help: "Total number of envelopes received from the broadcast medium, by outcome",
		}, []string{"result"}),
		PostFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "patientdb_post_failures_total",
			Help: "Total number of envelopes that could not be encoded or posted",
		}),
	}
}

func (m *Metrics) IncrementPosted(kind string) {
	m.EnvelopesPosted.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncrementReceived(result string) {
	m.EnvelopesReceived.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrementPostFailures() {
	m.PostFailures.Inc()
}
