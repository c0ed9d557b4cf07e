package workflow

import (
	"time"

	"github.com/simaogato/batchpay-backend/internal/domain"
)

// Metrics receives workflow measurements
type Metrics interface {
	WriteDispatched(kind domain.TransactionKind)
	WriteSettled(kind domain.TransactionKind, status domain.TxStatus, elapsed time.Duration)
	GuardRejected(kind domain.ErrorKind)
	BatchCompleted(asset string, recipients int)
}

// NopMetrics discards every measurement
type NopMetrics struct{}

func (NopMetrics) WriteDispatched(domain.TransactionKind)                             {}
func (NopMetrics) WriteSettled(domain.TransactionKind, domain.TxStatus, time.Duration) {}
func (NopMetrics) GuardRejected(domain.ErrorKind)                                     {}
func (NopMetrics) BatchCompleted(string, int)                                         {}
