package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics — Prometheus метрики моста.
//
// Все методы безопасны для nil-получателя: компоненты, собранные без
// метрик (например, в тестах), просто ничего не записывают.
type Metrics struct {
	DeliveriesReceived prometheus.Counter
	DeliveriesAcked    prometheus.Counter
	EngineFailures     prometheus.Counter
	AckFailures        prometheus.Counter
	ProcessDuration    prometheus.Histogram
	ControllerState    prometheus.Gauge
}

// NewMetrics регистрирует метрики в reg.
// Для /metrics по умолчанию передаётся prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		DeliveriesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "krbridge_deliveries_received_total",
			Help: "Deliveries received from the broker",
		}),
		DeliveriesAcked: f.NewCounter(prometheus.CounterOpts{
			Name: "krbridge_deliveries_acked_total",
			Help: "Deliveries acknowledged after a successful engine handoff",
		}),
		EngineFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "krbridge_engine_failures_total",
			Help: "Deliveries left unacknowledged because the engine rejected them",
		}),
		AckFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "krbridge_ack_failures_total",
			Help: "Acknowledgments that failed on the channel",
		}),
		ProcessDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "krbridge_engine_process_duration_seconds",
			Help:    "Duration of engine process calls",
			Buckets: prometheus.DefBuckets,
		}),
		ControllerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "krbridge_controller_state",
			Help: "Current connection controller state (0=INIT .. 6=CLOSED)",
		}),
	}
}

// Received учитывает полученную доставку.
func (m *Metrics) Received() {
	if m != nil {
		m.DeliveriesReceived.Inc()
	}
}

// Acked учитывает подтверждённую доставку.
func (m *Metrics) Acked() {
	if m != nil {
		m.DeliveriesAcked.Inc()
	}
}

// EngineFailed учитывает доставку, отклонённую engine.
func (m *Metrics) EngineFailed() {
	if m != nil {
		m.EngineFailures.Inc()
	}
}

// AckFailed учитывает неудачный ack.
func (m *Metrics) AckFailed() {
	if m != nil {
		m.AckFailures.Inc()
	}
}

// ObserveProcess записывает длительность вызова engine.
func (m *Metrics) ObserveProcess(d time.Duration) {
	if m != nil {
		m.ProcessDuration.Observe(d.Seconds())
	}
}

// SetState выставляет числовое значение состояния контроллера.
func (m *Metrics) SetState(state int) {
	if m != nil {
		m.ControllerState.Set(float64(state))
	}
}
