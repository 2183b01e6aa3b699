package handlers

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/qaknc8/edupay-backend/pkg/api/bursar"
	"github.com/qaknc8/edupay-backend/pkg/logging"
	"github.com/qaknc8/edupay-backend/pkg/models"
)

// gatewayStatusPaid is the literal status the gateway reports for a
// completed payment
const gatewayStatusPaid = "paid"

// PaymentCallback settles a bill after the payment gateway confirms payment
// POST /payments/callback
func PaymentCallback(c *gin.Context) {
	var req bursar.PaymentCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursar.ErrorResponse{Error: "Invalid request: " + err.Error()})
		return
	}

	bill, err := settlePayment(c.Request.Context(), req.ImpUID, req.BillID)
	if err != nil {
		if metrics != nil {
			metrics.PaymentsRejected.Inc()
		}
		logger.WithFields(logging.Fields{
			"imp_uid": req.ImpUID,
			"bill_id": req.BillID,
			"error":   err.Error(),
		}).Warn("Payment settlement rejected")
		c.JSON(statusForError(err), bursar.ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, bursar.PaymentCallbackResponse{
		BillID: bill.ID,
		Status: bill.Status,
		PaidAt: bill.PaidAt.Format(time.RFC3339),
	})
}

// settlePayment verifies a payment against the gateway and marks the bill
// paid exactly once. The gateway is consulted before any local state is
// touched; the bill row is then locked so concurrent callbacks for the same
// bill serialize, and the loser of the race observes ErrAlreadyPaid.
func settlePayment(ctx context.Context, impUID string, billID int64) (*models.Bill, error) {
	payment, err := gateway.FetchPayment(ctx, impUID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var bill models.Bill
	err = tx.QueryRowContext(ctx, `
		SELECT id, academy_id, student_id, total_price, status
		FROM bills WHERE id = $1 FOR UPDATE`, billID).Scan(
		&bill.ID, &bill.AcademyID, &bill.StudentID, &bill.TotalPrice, &bill.Status)
	if err == sql.ErrNoRows {
		return nil, ErrBillNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load bill: %w", err)
	}

	if payment.Status != gatewayStatusPaid {
		return nil, ErrPaymentIncomplete
	}

	if payment.Amount != bill.TotalPrice {
		// Amount mismatches need manual review, so log at warning level
		// with both sides before rejecting.
		logger.WithFields(logging.Fields{
			"bill_id":        billID,
			"imp_uid":        impUID,
			"billed_amount":  bill.TotalPrice,
			"gateway_amount": payment.Amount,
		}).Warn("Payment amount mismatch")
		return nil, ErrPaymentMismatch
	}

	// Idempotency guard. Checked after status and amount so a replayed
	// callback is still fully re-validated before it learns the bill has
	// already settled.
	if bill.Status == models.BillStatusPaid {
		return nil, ErrAlreadyPaid
	}

	var paidAt time.Time
	err = tx.QueryRowContext(ctx, `
		UPDATE bills SET status = $1, paid_at = NOW(), updated_at = NOW()
		WHERE id = $2
		RETURNING paid_at`, models.BillStatusPaid, billID).Scan(&paidAt)
	if err != nil {
		return nil, fmt.Errorf("failed to mark bill paid: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO payment_histories (id, payment_uid, bill_id) VALUES ($1, $2, $3)",
		uuid.New(), impUID, billID)
	if err != nil {
		return nil, fmt.Errorf("failed to record payment history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit settlement: %w", err)
	}

	if metrics != nil {
		metrics.PaymentsSettled.Inc()
	}

	bill.Status = models.BillStatusPaid
	bill.PaidAt = &paidAt

	logger.WithFields(logging.Fields{
		"bill_id": billID,
		"imp_uid": impUID,
		"amount":  bill.TotalPrice,
	}).Info("Payment settled")

	// Receipt generation and the confirmation email run off the request
	// path once the settlement has committed.
	if dispatcher != nil {
		settled := bill
		dispatcher.Submit("receipt", func(ctx context.Context) {
			if err := createReceipt(ctx, &settled); err != nil {
				logger.WithFields(logging.Fields{
					"bill_id": settled.ID,
					"error":   err.Error(),
				}).Warn("Failed to create receipt")
			}
		})
	}

	return &bill, nil
}

// GetPaymentInfo returns the fields a client needs to open a gateway
// checkout for a bill
// GET /payments/:bill_id
func GetPaymentInfo(c *gin.Context) {
	billID, err := strconv.ParseInt(c.Param("bill_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, bursar.ErrorResponse{Error: "Invalid bill ID"})
		return
	}

	var academyName, status string
	var totalPrice int64
	err = db.QueryRowContext(c.Request.Context(), `
		SELECT a.academy_name, b.total_price, b.status
		FROM bills b
		JOIN academies a ON a.id = b.academy_id
		WHERE b.id = $1`, billID).Scan(&academyName, &totalPrice, &status)
	if err == sql.ErrNoRows {
		c.JSON(statusForError(ErrBillNotFound), bursar.ErrorResponse{Error: ErrBillNotFound.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, bursar.ErrorResponse{Error: "Failed to load bill"})
		return
	}

	if status == models.BillStatusPaid {
		c.JSON(statusForError(ErrAlreadyPaid), bursar.ErrorResponse{Error: ErrAlreadyPaid.Error()})
		return
	}

	c.JSON(http.StatusOK, bursar.PaymentInfoResponse{
		BillID:   billID,
		BillName: fmt.Sprintf("%s 수강료", academyName),
		Amount:   totalPrice,
	})
}
