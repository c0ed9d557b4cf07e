package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/simaogato/batchpay-backend/internal/domain"
)

// Collector records workflow and API measurements in Prometheus
type Collector struct {
	writesDispatched *prometheus.CounterVec
	writesSettled    *prometheus.CounterVec
	confirmationTime *prometheus.HistogramVec
	guardRejections  *prometheus.CounterVec
	batchesCompleted *prometheus.CounterVec
	recipientsPaid   *prometheus.CounterVec

	grpcRequestsTotal   *prometheus.CounterVec
	grpcRequestDuration *prometheus.HistogramVec
}

// NewCollector registers every metric on reg
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		writesDispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batchpay_ledger_writes_dispatched_total",
				Help: "Total number of ledger writes handed to the signer",
			},
			[]string{"kind"},
		),
		writesSettled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batchpay_ledger_writes_settled_total",
				Help: "Total number of ledger writes that reached a terminal status",
			},
			[]string{"kind", "status"},
		),
		confirmationTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "batchpay_ledger_write_settle_seconds",
				Help:    "Time from record creation to settlement",
				Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300, 600},
			},
			[]string{"kind"},
		),
		guardRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batchpay_guard_rejections_total",
				Help: "Total number of commands refused by a workflow guard",
			},
			[]string{"reason"},
		),
		batchesCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batchpay_batches_completed_total",
				Help: "Total number of confirmed batch transfers",
			},
			[]string{"asset"},
		),
		recipientsPaid: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batchpay_recipients_paid_total",
				Help: "Total number of recipient lines in confirmed batches",
			},
			[]string{"asset"},
		),
		grpcRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grpc_requests_total",
				Help: "Total number of gRPC requests",
			},
			[]string{"method", "status"},
		),
		grpcRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "grpc_request_duration_seconds",
				Help:    "Duration of gRPC requests",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2, 5},
			},
			[]string{"method"},
		),
	}
}

// WriteDispatched implements workflow.Metrics
func (c *Collector) WriteDispatched(kind domain.TransactionKind) {
	c.writesDispatched.WithLabelValues(string(kind)).Inc()
}

// WriteSettled implements workflow.Metrics
func (c *Collector) WriteSettled(kind domain.TransactionKind, status domain.TxStatus, elapsed time.Duration) {
	c.writesSettled.WithLabelValues(string(kind), string(status)).Inc()
	c.confirmationTime.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

// GuardRejected implements workflow.Metrics
func (c *Collector) GuardRejected(kind domain.ErrorKind) {
	c.guardRejections.WithLabelValues(string(kind)).Inc()
}

// BatchCompleted implements workflow.Metrics
func (c *Collector) BatchCompleted(asset string, recipients int) {
	c.batchesCompleted.WithLabelValues(asset).Inc()
	c.recipientsPaid.WithLabelValues(asset).Add(float64(recipients))
}

// RequestObserved records one gRPC call
func (c *Collector) RequestObserved(method, code string, elapsed time.Duration) {
	c.grpcRequestsTotal.WithLabelValues(method, code).Inc()
	c.grpcRequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}
