package handlers

import (
	"errors"
	"net/http"
)

// Billing error taxonomy. Each is a terminal outcome for its request; none
// are retried internally.
var (
	ErrInsufficientQuota = errors.New("not enough points")
	ErrMessageTooLong    = errors.New("message exceeds 255 characters")
	ErrStudentNotFound   = errors.New("student not found")
	ErrAcademyNotFound   = errors.New("student has no academy")
	ErrLecturesNotFound  = errors.New("student has no lecture enrollments")
	ErrBillNotFound      = errors.New("bill not found")
	ErrEmptyPage         = errors.New("no bill logs on requested page")
	ErrReceiptNotFound   = errors.New("receipt not found")
	ErrPaymentIncomplete = errors.New("payment not completed")
	ErrPaymentMismatch   = errors.New("payment amount does not match bill")
	ErrAlreadyPaid       = errors.New("bill already paid")
	ErrGateway           = errors.New("payment gateway unavailable")
)

// statusForError maps billing errors to HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrInsufficientQuota),
		errors.Is(err, ErrMessageTooLong),
		errors.Is(err, ErrPaymentIncomplete),
		errors.Is(err, ErrPaymentMismatch):
		return http.StatusBadRequest
	case errors.Is(err, ErrStudentNotFound),
		errors.Is(err, ErrAcademyNotFound),
		errors.Is(err, ErrLecturesNotFound),
		errors.Is(err, ErrBillNotFound),
		errors.Is(err, ErrEmptyPage),
		errors.Is(err, ErrReceiptNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyPaid):
		return http.StatusConflict
	case errors.Is(err, ErrGateway):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
