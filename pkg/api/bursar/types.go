package bursar

import (
	"time"

	"github.com/qaknc8/edupay-backend/pkg/models"
)

// CreateBillRequest represents a request to issue a single bill
type CreateBillRequest struct {
	StudentID int64  `json:"student_id" binding:"required"`
	Message   string `json:"message"`
}

// CreateBillsRequest represents a request to issue bills for several students
type CreateBillsRequest struct {
	StudentIDs []int64 `json:"student_ids" binding:"required"`
}

// BillInfo summarizes a freshly issued bill
type BillInfo struct {
	BillID       int64     `json:"bill_id"`
	AcademyName  string    `json:"academy_name"`
	StudentName  string    `json:"student_name"`
	Grade        string    `json:"grade"`
	Contact      string    `json:"contact"`
	LectureNames []string  `json:"lecture_names"`
	TotalPrice   int64     `json:"total_price"`
	DueDate      time.Time `json:"due_date"`
	Message      string    `json:"message"`
}

// CreateBillsResponse carries the bills created by a batch request. On a
// partial failure the prefix of successfully created bills is returned
// together with the error; earlier bills are not rolled back.
type CreateBillsResponse struct {
	Bills []BillInfo `json:"bills"`
	Error string     `json:"error,omitempty"`
}

// BillDetailResponse represents the read-only detail view of a bill
type BillDetailResponse struct {
	AcademyName string `json:"academy_name"`
	Reason      string `json:"reason"`
	TotalPrice  int64  `json:"total_price"`
}

// BillLogsResponse represents one page of the bill audit log
type BillLogsResponse struct {
	Logs  []models.BillLog `json:"logs"`
	Page  int              `json:"page"`
	Limit int              `json:"limit"`
	Total int              `json:"total"`
}

// PaymentInfoResponse carries the fields a client needs to start a checkout
// with the payment gateway
type PaymentInfoResponse struct {
	BillID   int64  `json:"bill_id"`
	BillName string `json:"bill_name"`
	Amount   int64  `json:"amount"`
}

// PaymentCallbackRequest is the inbound gateway callback payload
type PaymentCallbackRequest struct {
	ImpUID string `json:"imp_uid" binding:"required"`
	BillID int64  `json:"bill_id" binding:"required"`
}

// PaymentCallbackResponse acknowledges a settled payment
type PaymentCallbackResponse struct {
	BillID int64  `json:"bill_id"`
	Status string `json:"status"`
	PaidAt string `json:"paid_at"`
}

// ErrorResponse represents a standard error response from Bursar
type ErrorResponse struct {
	Error string `json:"error"`
}
