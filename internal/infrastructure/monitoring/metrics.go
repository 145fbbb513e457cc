package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type HTTPMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

type DBMetrics struct {
	QueryDuration *prometheus.HistogramVec
}

type EngineMetrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	PaymentAmount     *prometheus.CounterVec
	EventsPublished   *prometheus.CounterVec
}

type BatchMetrics struct {
	LastRunMembers  *prometheus.GaugeVec
	LastRunDuration prometheus.Gauge
}

var (
	HTTP = HTTPMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_engine_http_requests_total",
				Help: "Total number of HTTP requests received.",
			},
			[]string{"method", "path", "code"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credit_engine_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "code"},
		),
	}

	DB = DBMetrics{
		QueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credit_engine_db_query_duration_seconds",
				Help:    "Histogram of database query latencies.",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"query_name", "status"},
		),
	}

	Engine = EngineMetrics{
		OperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_engine_operations_total",
				Help: "Engine operations by name and outcome code.",
			},
			[]string{"operation", "outcome"},
		),
		OperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credit_engine_operation_duration_seconds",
				Help:    "Histogram of engine operation latencies.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		PaymentAmount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_engine_payment_amount_total",
				Help: "Money applied by payments, split by waterfall component.",
			},
			[]string{"component"},
		),
		EventsPublished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_engine_events_published_total",
				Help: "Domain events handed to the broker, by type and status.",
			},
			[]string{"type", "status"},
		),
	}

	Batch = BatchMetrics{
		LastRunMembers: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "credit_engine_batch_last_run_members",
				Help: "Members processed by the last delinquency batch run, by result.",
			},
			[]string{"result"},
		),
		LastRunDuration: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "credit_engine_batch_last_run_duration_seconds",
				Help: "Wall time of the last delinquency batch run.",
			},
		),
	}
)

func RecordHTTPRequest(method, path, code string, duration time.Duration) {
	HTTP.RequestsTotal.WithLabelValues(method, path, code).Inc()
	HTTP.RequestDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
}

func RecordDBQuery(queryName, status string, duration time.Duration) {
	DB.QueryDuration.WithLabelValues(queryName, status).Observe(duration.Seconds())
}

// RecordOperation counts one engine operation. outcome is "success" or the
// error code the operation failed with.
func RecordOperation(operation, outcome string, duration time.Duration) {
	Engine.OperationsTotal.WithLabelValues(operation, outcome).Inc()
	Engine.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func RecordPaymentComponent(component string, amount float64) {
	if amount <= 0 {
		return
	}
	Engine.PaymentAmount.WithLabelValues(component).Add(amount)
}

func RecordEventPublished(eventType, status string) {
	Engine.EventsPublished.WithLabelValues(eventType, status).Inc()
}

func RecordBatchRun(succeeded, failed int, duration time.Duration) {
	Batch.LastRunMembers.WithLabelValues("success").Set(float64(succeeded))
	Batch.LastRunMembers.WithLabelValues("failure").Set(float64(failed))
	Batch.LastRunDuration.Set(duration.Seconds())
}
