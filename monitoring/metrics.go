package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Batch job labels.
const (
	JobCreate            = "settlement_create"
	JobConfirm           = "settlement_confirm"
	JobAdjustmentConfirm = "adjustment_confirm"
)

// Metrics groups every collector of the engine, registered on reg.
type Metrics struct {
	SettlementsCreated   prometheus.Counter
	SettlementsConfirmed prometheus.Counter
	AdjustmentsConfirmed prometheus.Counter
	BatchFailures        *prometheus.CounterVec
	BatchDuration        *prometheus.HistogramVec
	BatchVolume          *prometheus.HistogramVec
	BatchLastRun         *prometheus.GaugeVec

	IndexQueueProcessed *prometheus.CounterVec
	IndexQueueDepth     *prometheus.GaugeVec

	Refunds *prometheus.CounterVec

	SchedulerRuns *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SettlementsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "settlement_created_total",
			Help: "Settlements created by the daily batch",
		}),
		SettlementsConfirmed: factory.NewCounter(prometheus.CounterOpts{
			Name: "settlement_confirmed_total",
			Help: "Settlements moved to CONFIRMED",
		}),
		AdjustmentsConfirmed: factory.NewCounter(prometheus.CounterOpts{
			Name: "settlement_adjustment_confirmed_total",
			Help: "Refund adjustments moved to CONFIRMED",
		}),
		BatchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_batch_item_failures_total",
			Help: "Items that failed inside a batch run",
		}, []string{"job"}),
		BatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "settlement_batch_duration_seconds",
			Help:    "Wall time of a batch run",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
		}, []string{"job"}),
		BatchVolume: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "settlement_batch_items",
			Help:    "Records examined by a batch run",
			Buckets: prometheus.ExponentialBuckets(1, 10, 7),
		}, []string{"job"}),
		BatchLastRun: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "settlement_batch_last_run_timestamp_seconds",
			Help: "Unix time of the last finished batch run",
		}, []string{"job"}),
		IndexQueueProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_index_queue_processed_total",
			Help: "Index queue items by outcome",
		}, []string{"outcome"}),
		IndexQueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "settlement_index_queue_items",
			Help: "Index queue items by status",
		}, []string{"status"}),
		Refunds: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_refunds_total",
			Help: "Refunds processed by scenario",
		}, []string{"scenario"}),
		SchedulerRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_scheduler_runs_total",
			Help: "Scheduled job runs by result",
		}, []string{"job", "result"}),
	}
}

// ObserveBatch records duration, volume and completion time of one run.
func (m *Metrics) ObserveBatch(job string, started time.Time, examined int, failed int) {
	m.BatchDuration.WithLabelValues(job).Observe(time.Since(started).Seconds())
	m.BatchVolume.WithLabelValues(job).Observe(float64(examined))
	m.BatchLastRun.WithLabelValues(job).Set(float64(time.Now().Unix()))
	if failed > 0 {
		m.BatchFailures.WithLabelValues(job).Add(float64(failed))
	}
}
