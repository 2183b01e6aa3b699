package handlers

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/qaknc8/edupay-backend/pkg/api/bursar"
	"github.com/qaknc8/edupay-backend/pkg/auth"
	"github.com/qaknc8/edupay-backend/pkg/logging"
	"github.com/qaknc8/edupay-backend/pkg/models"
)

const (
	maxMessageLength    = 255
	dueDateOffset       = 14 * 24 * time.Hour
	defaultBatchMessage = "수강료 청구서가 발급되었습니다."
	billReason          = "tuition"
)

// CreateBill issues a single bill for one student
// POST /bills
func CreateBill(c *gin.Context) {
	accountID, ok := auth.AccountID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, bursar.ErrorResponse{Error: "Authentication required"})
		return
	}

	var req bursar.CreateBillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursar.ErrorResponse{Error: "Invalid request: " + err.Error()})
		return
	}

	info, err := createBillForStudent(c.Request.Context(), accountID, req.StudentID, req.Message)
	if err != nil {
		logger.WithFields(logging.Fields{
			"account_id": accountID,
			"student_id": req.StudentID,
			"error":      err.Error(),
		}).Warn("Bill creation failed")
		c.JSON(statusForError(err), bursar.ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, info)
}

// CreateBills issues bills for several students in one request. Bills are
// created one at a time; a failure aborts the batch and the bills already
// created stay in place.
// POST /bills/batch
func CreateBills(c *gin.Context) {
	accountID, ok := auth.AccountID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, bursar.ErrorResponse{Error: "Authentication required"})
		return
	}

	var req bursar.CreateBillsRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.StudentIDs) == 0 {
		c.JSON(http.StatusBadRequest, bursar.ErrorResponse{Error: "Invalid request: student_ids required"})
		return
	}

	// Advisory pre-check only. Each bill debits its own point inside the
	// per-student transaction, so concurrent requests on the same account
	// can still drain the balance between here and the loop below.
	var points int64
	err := db.QueryRowContext(c.Request.Context(),
		"SELECT points FROM accounts WHERE id = $1", accountID).Scan(&points)
	if err != nil {
		c.JSON(http.StatusInternalServerError, bursar.ErrorResponse{Error: "Failed to check point balance"})
		return
	}
	if points < int64(len(req.StudentIDs)) {
		c.JSON(statusForError(ErrInsufficientQuota), bursar.ErrorResponse{Error: ErrInsufficientQuota.Error()})
		return
	}

	bills := make([]bursar.BillInfo, 0, len(req.StudentIDs))
	for _, studentID := range req.StudentIDs {
		info, err := createBillForStudent(c.Request.Context(), accountID, studentID, defaultBatchMessage)
		if err != nil {
			logger.WithFields(logging.Fields{
				"account_id": accountID,
				"student_id": studentID,
				"created":    len(bills),
				"error":      err.Error(),
			}).Warn("Batch bill creation aborted")
			c.JSON(statusForError(err), bursar.CreateBillsResponse{
				Bills: bills,
				Error: fmt.Sprintf("student %d: %s", studentID, err.Error()),
			})
			return
		}
		bills = append(bills, *info)
	}

	c.JSON(http.StatusCreated, bursar.CreateBillsResponse{Bills: bills})
}

// createBillForStudent runs one bill creation as a single transaction: the
// bill insert, the point debit, and the audit append commit or roll back
// together. The account row is locked first so concurrent debits on the same
// account serialize and the balance never goes negative.
func createBillForStudent(ctx context.Context, accountID, studentID int64, message string) (*bursar.BillInfo, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var points int64
	err = tx.QueryRowContext(ctx,
		"SELECT points FROM accounts WHERE id = $1 FOR UPDATE", accountID).Scan(&points)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if points <= 0 {
		return nil, ErrInsufficientQuota
	}

	if utf8.RuneCountInString(message) > maxMessageLength {
		return nil, ErrMessageTooLong
	}

	var student models.Student
	err = tx.QueryRowContext(ctx, `
		SELECT id, academy_id, student_name, grade, phone_number, email
		FROM students WHERE id = $1`, studentID).Scan(
		&student.ID, &student.AcademyID, &student.StudentName,
		&student.Grade, &student.PhoneNumber, &student.Email)
	if err == sql.ErrNoRows {
		return nil, ErrStudentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load student: %w", err)
	}
	if !student.AcademyID.Valid {
		return nil, ErrAcademyNotFound
	}

	var academyName string
	err = tx.QueryRowContext(ctx,
		"SELECT academy_name FROM academies WHERE id = $1", student.AcademyID.Int64).Scan(&academyName)
	if err == sql.ErrNoRows {
		return nil, ErrAcademyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load academy: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT l.lecture_name, l.price
		FROM lectures l
		JOIN student_lectures sl ON sl.lecture_id = l.id
		WHERE sl.student_id = $1
		ORDER BY l.id`, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load lectures: %w", err)
	}
	defer rows.Close()

	var lectureNames []string
	var totalPrice int64
	for rows.Next() {
		var name string
		var price int64
		if err := rows.Scan(&name, &price); err != nil {
			return nil, fmt.Errorf("failed to scan lecture: %w", err)
		}
		lectureNames = append(lectureNames, name)
		totalPrice += price
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read lectures: %w", err)
	}
	rows.Close()
	if len(lectureNames) == 0 {
		return nil, ErrLecturesNotFound
	}

	dueDate := time.Now().Add(dueDateOffset)

	var billID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO bills (academy_id, student_id, due_date, message, total_price, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		student.AcademyID.Int64, studentID, dueDate, message, totalPrice, models.BillStatusBefore).Scan(&billID)
	if err != nil {
		return nil, fmt.Errorf("failed to create bill: %w", err)
	}

	var remaining int64
	err = tx.QueryRowContext(ctx, `
		UPDATE accounts SET points = points - 1, updated_at = NOW()
		WHERE id = $1
		RETURNING points`, accountID).Scan(&remaining)
	if err != nil {
		return nil, fmt.Errorf("failed to debit points: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO bill_logs (bill_id, remaining_points) VALUES ($1, $2)", billID, remaining)
	if err != nil {
		return nil, fmt.Errorf("failed to append bill log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit bill: %w", err)
	}

	if metrics != nil {
		metrics.BillsCreated.Inc()
		metrics.PointsDebited.Inc()
	}

	logger.WithFields(logging.Fields{
		"bill_id":          billID,
		"account_id":       accountID,
		"student_id":       studentID,
		"total_price":      totalPrice,
		"remaining_points": remaining,
	}).Info("Bill created")

	info := &bursar.BillInfo{
		BillID:       billID,
		AcademyName:  academyName,
		StudentName:  student.StudentName,
		Grade:        student.Grade,
		Contact:      student.PhoneNumber,
		LectureNames: lectureNames,
		TotalPrice:   totalPrice,
		DueDate:      dueDate,
		Message:      message,
	}

	// Notification is a post-commit side effect: a send failure never rolls
	// back the bill.
	if dispatcher != nil && emailService != nil && student.Email != "" {
		to := student.Email
		dispatcher.Submit("bill_created_email", func(ctx context.Context) {
			if err := emailService.SendBillCreated(ctx, to, info.AcademyName, info.StudentName,
				info.BillID, info.TotalPrice, info.DueDate, info.Message); err != nil {
				logger.WithFields(logging.Fields{
					"bill_id": info.BillID,
					"error":   err.Error(),
				}).Warn("Failed to send bill notification")
			}
		})
	}

	return info, nil
}

// GetBillDetail returns the read-only payer view of a bill
// GET /bills/:bill_id
func GetBillDetail(c *gin.Context) {
	billID, err := strconv.ParseInt(c.Param("bill_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, bursar.ErrorResponse{Error: "Invalid bill ID"})
		return
	}

	var resp bursar.BillDetailResponse
	err = db.QueryRowContext(c.Request.Context(), `
		SELECT a.academy_name, b.total_price
		FROM bills b
		JOIN academies a ON a.id = b.academy_id
		WHERE b.id = $1`, billID).Scan(&resp.AcademyName, &resp.TotalPrice)
	if err == sql.ErrNoRows {
		c.JSON(statusForError(ErrBillNotFound), bursar.ErrorResponse{Error: ErrBillNotFound.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, bursar.ErrorResponse{Error: "Failed to load bill"})
		return
	}

	resp.Reason = billReason
	c.JSON(http.StatusOK, resp)
}

// GetBillLogs returns one page of the requester's bill audit log
// GET /bills/logs?page=1&limit=10
func GetBillLogs(c *gin.Context) {
	accountID, ok := auth.AccountID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, bursar.ErrorResponse{Error: "Authentication required"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}
	offset := (page - 1) * limit

	var total int
	err := db.QueryRowContext(c.Request.Context(), `
		SELECT COUNT(*)
		FROM bill_logs bl
		JOIN bills b ON b.id = bl.bill_id
		JOIN academies a ON a.id = b.academy_id
		WHERE a.account_id = $1`, accountID).Scan(&total)
	if err != nil {
		c.JSON(http.StatusInternalServerError, bursar.ErrorResponse{Error: "Failed to count bill logs"})
		return
	}

	rows, err := db.QueryContext(c.Request.Context(), `
		SELECT bl.id, bl.bill_id, bl.remaining_points, bl.created_at
		FROM bill_logs bl
		JOIN bills b ON b.id = bl.bill_id
		JOIN academies a ON a.id = b.academy_id
		WHERE a.account_id = $1
		ORDER BY bl.id
		LIMIT $2 OFFSET $3`, accountID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, bursar.ErrorResponse{Error: "Failed to load bill logs"})
		return
	}
	defer rows.Close()

	logs := []models.BillLog{}
	for rows.Next() {
		var log models.BillLog
		if err := rows.Scan(&log.ID, &log.BillID, &log.RemainingPoints, &log.CreatedAt); err != nil {
			c.JSON(http.StatusInternalServerError, bursar.ErrorResponse{Error: "Failed to scan bill log"})
			return
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		c.JSON(http.StatusInternalServerError, bursar.ErrorResponse{Error: "Failed to read bill logs"})
		return
	}

	if len(logs) == 0 {
		c.JSON(statusForError(ErrEmptyPage), bursar.ErrorResponse{Error: ErrEmptyPage.Error()})
		return
	}

	c.JSON(http.StatusOK, bursar.BillLogsResponse{
		Logs:  logs,
		Page:  page,
		Limit: limit,
		Total: total,
	})
}
