package handlers

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/qaknc8/edupay-backend/pkg/api/bursar"
	"github.com/qaknc8/edupay-backend/pkg/logging"
	"github.com/qaknc8/edupay-backend/pkg/models"
)

// createReceipt writes the receipt document for a settled bill and mails the
// payer a confirmation. The unique index on bill_id makes the write
// idempotent against duplicate dispatch.
func createReceipt(ctx context.Context, bill *models.Bill) error {
	var academyName, studentName, studentEmail string
	err := db.QueryRowContext(ctx, `
		SELECT a.academy_name, s.student_name, s.email
		FROM bills b
		JOIN academies a ON a.id = b.academy_id
		JOIN students s ON s.id = b.student_id
		WHERE b.id = $1`, bill.ID).Scan(&academyName, &studentName, &studentEmail)
	if err != nil {
		return fmt.Errorf("failed to load receipt details: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO receipts (id, bill_id, academy_name, student_name, amount, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (bill_id) DO NOTHING`,
		uuid.New(), bill.ID, academyName, studentName, bill.TotalPrice, bill.PaidAt)
	if err != nil {
		return fmt.Errorf("failed to store receipt: %w", err)
	}

	logger.WithFields(logging.Fields{
		"bill_id": bill.ID,
		"amount":  bill.TotalPrice,
	}).Info("Receipt created")

	if emailService != nil && studentEmail != "" {
		if err := emailService.SendReceipt(ctx, studentEmail, academyName, studentName,
			bill.TotalPrice, *bill.PaidAt); err != nil {
			logger.WithFields(logging.Fields{
				"bill_id": bill.ID,
				"error":   err.Error(),
			}).Warn("Failed to send receipt email")
		}
	}

	return nil
}

// GetReceipt returns the receipt for a settled bill
// GET /bills/:bill_id/receipt
func GetReceipt(c *gin.Context) {
	billID, err := strconv.ParseInt(c.Param("bill_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, bursar.ErrorResponse{Error: "Invalid bill ID"})
		return
	}

	var receipt models.Receipt
	err = db.QueryRowContext(c.Request.Context(), `
		SELECT id, bill_id, academy_name, student_name, amount, paid_at, created_at
		FROM receipts WHERE bill_id = $1`, billID).Scan(
		&receipt.ID, &receipt.BillID, &receipt.AcademyName, &receipt.StudentName,
		&receipt.Amount, &receipt.PaidAt, &receipt.CreatedAt)
	if err == sql.ErrNoRows {
		c.JSON(statusForError(ErrReceiptNotFound), bursar.ErrorResponse{Error: ErrReceiptNotFound.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, bursar.ErrorResponse{Error: "Failed to load receipt"})
		return
	}

	c.JSON(http.StatusOK, receipt)
}
