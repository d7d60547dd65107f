package patient

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the intake pipeline and queue.
type Metrics struct {
	IntakesTotal     *prometheus.CounterVec
	PersistDuration  *prometheus.HistogramVec
	SummariesTotal   *prometheus.CounterVec
	QueuePatients    prometheus.Gauge
	QueueCritical    prometheus.Gauge
	QueueUrgent      prometheus.Gauge
	QueueWaiting     prometheus.Gauge
	QueueAvgWait     prometheus.Gauge
	QueueLoadPercent prometheus.Gauge
}

// NewMetrics registers and returns patient metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IntakesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triagedesk_intakes_total",
			Help: "Total intake submissions by result.",
		}, []string{"result"}),
		PersistDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "triagedesk_persist_duration_seconds",
			Help:    "Duration of patient inserts against the store.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms .. ~2.5s
		}, []string{"outcome"}),
		SummariesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triagedesk_summaries_total",
			Help: "AI summary requests by kind and source (llm, cache, error).",
		}, []string{"kind", "source"}),
		QueuePatients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "triagedesk_queue_patients",
			Help: "Patients in the working set.",
		}),
		QueueCritical: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "triagedesk_queue_critical",
			Help: "Patients at triage level 1 or 2.",
		}),
		QueueUrgent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "triagedesk_queue_urgent",
			Help: "Patients at triage level 3.",
		}),
		QueueWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "triagedesk_queue_waiting",
			Help: "Patients with status waiting.",
		}),
		QueueAvgWait: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "triagedesk_queue_avg_wait_minutes",
			Help: "Mean wait of waiting patients at the last recompute.",
		}),
		QueueLoadPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "triagedesk_queue_load_percent",
			Help: "Waiting patients as a percentage of nominal capacity (unclamped).",
		}),
	}

	reg.MustRegister(
		m.IntakesTotal,
		m.PersistDuration,
		m.SummariesTotal,
		m.QueuePatients,
		m.QueueCritical,
		m.QueueUrgent,
		m.QueueWaiting,
		m.QueueAvgWait,
		m.QueueLoadPercent,
	)

	return m
}

// Hooks returns ServiceHooks that update the corresponding metrics.
func (m *Metrics) Hooks() ServiceHooks {
	return ServiceHooks{
		OnIntake: func(result string, persistSeconds float64) {
			m.IntakesTotal.WithLabelValues(result).Inc()
			switch result {
			case "accepted":
				m.PersistDuration.WithLabelValues("ok").Observe(persistSeconds)
			case "failed":
				m.PersistDuration.WithLabelValues("error").Observe(persistSeconds)
			}
		},
		OnStats: func(s Stats) {
			m.QueuePatients.Set(float64(s.Total))
			m.QueueCritical.Set(float64(s.CriticalCount))
			m.QueueUrgent.Set(float64(s.UrgentCount))
			m.QueueWaiting.Set(float64(s.TotalWaiting))
			m.QueueAvgWait.Set(float64(s.AvgWaitMinutes))
			m.QueueLoadPercent.Set(float64(s.QueueLoadPercent))
		},
		OnSummary: func(kind SummaryKind, source string) {
			m.SummariesTotal.WithLabelValues(string(kind), source).Inc()
		},
	}
}
