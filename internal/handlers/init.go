package handlers

import (
	"context"
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/qaknc8/edupay-backend/internal/iamport"
	"github.com/qaknc8/edupay-backend/pkg/logging"
	"github.com/qaknc8/edupay-backend/pkg/monitoring"
)

var (
	db           *sql.DB
	logger       logging.Logger
	gateway      PaymentFetcher
	dispatcher   *Dispatcher
	emailService *EmailService
	metrics      *BursarMetrics
)

// PaymentFetcher is the read side of the payment gateway. The concrete
// implementation lives in internal/iamport; tests substitute a stub.
type PaymentFetcher interface {
	FetchPayment(ctx context.Context, impUID string) (iamport.Payment, error)
}

// BursarMetrics holds Prometheus metrics for billing operations
type BursarMetrics struct {
	BillsCreated     prometheus.Counter
	PaymentsSettled  prometheus.Counter
	PaymentsRejected prometheus.Counter
	PointsDebited    prometheus.Counter
}

// Init sets up package-level dependencies for the handlers
func Init(database *sql.DB, log logging.Logger, fetcher PaymentFetcher, email *EmailService, disp *Dispatcher) {
	db = database
	logger = log
	gateway = fetcher
	emailService = email
	dispatcher = disp
}

// InitMetrics wires Prometheus metrics into the handlers
func InitMetrics(mc *monitoring.MetricsCollector) {
	metrics = &BursarMetrics{
		BillsCreated:     mc.NewCounter("bills_created_total", "Total bills successfully created", nil).WithLabelValues(),
		PaymentsSettled:  mc.NewCounter("payments_settled_total", "Total payments settled", nil).WithLabelValues(),
		PaymentsRejected: mc.NewCounter("payments_rejected_total", "Total payment callbacks rejected", nil).WithLabelValues(),
		PointsDebited:    mc.NewCounter("points_debited_total", "Total points debited from accounts", nil).WithLabelValues(),
	}
}
