package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks rental outcomes and the daily maintenance run.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Outcomes            *prometheus.CounterVec
	MaintenanceRuns     *prometheus.CounterVec
	MaintenanceDuration prometheus.Histogram
	InactiveUsersPruned prometheus.Counter
	FilesPruned         *prometheus.CounterVec
	LastMaintenance     prometheus.Gauge
}

// New registers all metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rental_outcomes_total",
			Help: "Rental interactions by operation and outcome",
		}, []string{"operation", "outcome"}),
		MaintenanceRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rental_maintenance_runs_total",
			Help: "Maintenance runs by result",
		}, []string{"result"}),
		MaintenanceDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "rental_maintenance_duration_seconds",
			Help:    "Duration of a maintenance run",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
		InactiveUsersPruned: f.NewCounter(prometheus.CounterOpts{
			Name: "rental_inactive_users_pruned_total",
			Help: "Users removed by the inactivity sweep",
		}),
		FilesPruned: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rental_files_pruned_total",
			Help: "Expired backup and log files removed",
		}, []string{"kind"}),
		LastMaintenance: f.NewGauge(prometheus.GaugeOpts{
			Name: "rental_last_maintenance_timestamp_seconds",
			Help: "Unix time of the last finished maintenance run",
		}),
	}
}

// Outcome records one finished rental interaction.
func (m *Metrics) Outcome(operation, outcome string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(operation, outcome).Inc()
}

// ObserveMaintenance records a finished run started at start.
func (m *Metrics) ObserveMaintenance(start time.Time, failed bool) {
	if m == nil {
		return
	}
	result := "ok"
	if failed {
		result = "failed"
	}
	m.MaintenanceRuns.WithLabelValues(result).Inc()
	m.MaintenanceDuration.Observe(time.Since(start).Seconds())
	m.LastMaintenance.SetToCurrentTime()
}

func (m *Metrics) AddInactiveUsersPruned(n int) {
	if m == nil {
		return
	}
	m.InactiveUsersPruned.Add(float64(n))
}

func (m *Metrics) AddFilesPruned(kind string, n int) {
	if m == nil {
		return
	}
	m.FilesPruned.WithLabelValues(kind).Add(float64(n))
}
