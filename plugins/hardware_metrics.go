package plugins

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the PIR plugin
type Metrics struct {
	polls    prometheus.Counter
	events   *prometheus.CounterVec
	errors   *prometheus.CounterVec
	repushes *prometheus.CounterVec
	reading  *prometheus.GaugeVec
	oor      *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pir_polls_total",
			Help: "Poll cycles over the sensor array.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pir_events_total",
			Help: "Wake-up events read from a sensor.",
		}, []string{"sensor"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pir_errors_total",
			Help: "Failed sensor operations by error class.",
		}, []string{"sensor", "class"}),
		repushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pir_config_repush_total",
			Help: "Configuration pushed again after a readback mismatch.",
		}, []string{"sensor"}),
		reading: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pir_reading",
			Help: "Last reading of the configured signal source.",
		}, []string{"sensor", "source"}),
		oor: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pir_out_of_range",
			Help: "1 when the last reading was out of range.",
		}, []string{"sensor"}),
	}

	reg.MustRegister(m.polls, m.events, m.errors, m.repushes, m.reading, m.oor)
	return m
}

func (m *Metrics) observeReading(sensor string, r ReadingView, event bool) {
	m.reading.With(prometheus.Labels{"sensor": sensor, "source": r.Source}).Set(float64(r.Value))
	oor := 0.0
	if r.OutOfRange {
		oor = 1
	}
	m.oor.With(prometheus.Labels{"sensor": sensor}).Set(oor)
	if event {
		m.events.With(prometheus.Labels{"sensor": sensor}).Inc()
	}
}

func (m *Metrics) observeError(sensor string, err error) {
	m.errors.With(prometheus.Labels{"sensor": sensor, "class": ErrorClass(err)}).Inc()
}

func (m *Metrics) observeRepush(sensor string) {
	m.repushes.With(prometheus.Labels{"sensor": sensor}).Inc()
}
