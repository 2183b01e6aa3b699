package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"github.com/qaknc8/edupay-backend/pkg/api/bursar"
	"github.com/qaknc8/edupay-backend/pkg/auth"
	"github.com/qaknc8/edupay-backend/pkg/logging"
)

func setupTest(t *testing.T) sqlmock.Sqlmock {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = mockDB.Close() })

	db = mockDB
	logger = logging.NewLogger()
	gateway = nil
	dispatcher = nil
	emailService = nil
	metrics = nil

	return mock
}

// expectBillCreation queues the full happy-path expectation set for one
// bill creation transaction.
func expectBillCreation(mock sqlmock.Sqlmock, accountID, studentID, billID int64, prices []int64, remaining int64) {
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT points FROM accounts WHERE id = $1 FOR UPDATE")).
		WithArgs(accountID).
		WillReturnRows(sqlmock.NewRows([]string{"points"}).AddRow(remaining + 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE id = $1")).
		WithArgs(studentID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "academy_id", "student_name", "grade", "phone_number", "email"}).
			AddRow(studentID, 3, "김철수", "중2", "010-1234-5678", "student@example.com"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT academy_name FROM academies WHERE id = $1")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"academy_name"}).AddRow("한빛학원"))

	lectureRows := sqlmock.NewRows([]string{"lecture_name", "price"})
	for i, price := range prices {
		lectureRows.AddRow("강의"+string(rune('A'+i)), price)
	}
	mock.ExpectQuery(regexp.QuoteMeta("JOIN student_lectures sl ON sl.lecture_id = l.id")).
		WithArgs(studentID).
		WillReturnRows(lectureRows)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO bills")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(billID))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE accounts SET points = points - 1")).
		WithArgs(accountID).
		WillReturnRows(sqlmock.NewRows([]string{"points"}).AddRow(remaining))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO bill_logs (bill_id, remaining_points) VALUES ($1, $2)")).
		WithArgs(billID, remaining).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
}

func TestCreateBillForStudent(t *testing.T) {
	mock := setupTest(t)

	expectBillCreation(mock, 1, 2, 7, []int64{50, 30}, 0)

	before := time.Now()
	info, err := createBillForStudent(context.Background(), 1, 2, "이번 달 수강료입니다")
	if err != nil {
		t.Fatalf("expected bill creation to succeed, got: %v", err)
	}

	if info.BillID != 7 {
		t.Errorf("expected bill ID 7, got %d", info.BillID)
	}
	if info.TotalPrice != 80 {
		t.Errorf("expected total price 80, got %d", info.TotalPrice)
	}
	if info.AcademyName != "한빛학원" {
		t.Errorf("unexpected academy name: %s", info.AcademyName)
	}
	if len(info.LectureNames) != 2 {
		t.Errorf("expected 2 lecture names, got %d", len(info.LectureNames))
	}

	wantDue := before.Add(14 * 24 * time.Hour)
	if info.DueDate.Before(wantDue.Add(-time.Minute)) || info.DueDate.After(wantDue.Add(time.Minute)) {
		t.Errorf("expected due date ~%v, got %v", wantDue, info.DueDate)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateBillForStudentInsufficientPoints(t *testing.T) {
	mock := setupTest(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT points FROM accounts WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"points"}).AddRow(0))
	mock.ExpectRollback()

	_, err := createBillForStudent(context.Background(), 1, 2, "")
	if !errors.Is(err, ErrInsufficientQuota) {
		t.Fatalf("expected ErrInsufficientQuota, got: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateBillForStudentMessageTooLong(t *testing.T) {
	mock := setupTest(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT points FROM accounts WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"points"}).AddRow(5))
	mock.ExpectRollback()

	_, err := createBillForStudent(context.Background(), 1, 2, strings.Repeat("가", 256))
	if !errors.Is(err, ErrMessageTooLong) {
		t.Fatalf("expected ErrMessageTooLong, got: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateBillForStudentNoLectures(t *testing.T) {
	mock := setupTest(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT points FROM accounts WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"points"}).AddRow(5))
	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE id = $1")).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "academy_id", "student_name", "grade", "phone_number", "email"}).
			AddRow(2, 3, "김철수", "중2", "010-1234-5678", ""))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT academy_name FROM academies WHERE id = $1")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"academy_name"}).AddRow("한빛학원"))
	mock.ExpectQuery(regexp.QuoteMeta("JOIN student_lectures sl ON sl.lecture_id = l.id")).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"lecture_name", "price"}))
	mock.ExpectRollback()

	_, err := createBillForStudent(context.Background(), 1, 2, "")
	if !errors.Is(err, ErrLecturesNotFound) {
		t.Fatalf("expected ErrLecturesNotFound, got: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateBillForStudentNotFound(t *testing.T) {
	mock := setupTest(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT points FROM accounts WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"points"}).AddRow(5))
	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE id = $1")).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "academy_id", "student_name", "grade", "phone_number", "email"}))
	mock.ExpectRollback()

	_, err := createBillForStudent(context.Background(), 1, 99, "")
	if !errors.Is(err, ErrStudentNotFound) {
		t.Fatalf("expected ErrStudentNotFound, got: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func testRouter(accountID int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(auth.KeyAccountID, accountID)
		c.Next()
	})
	router.POST("/bills", CreateBill)
	router.POST("/bills/batch", CreateBills)
	router.GET("/bills/logs", GetBillLogs)
	router.GET("/bills/:bill_id", GetBillDetail)
	router.POST("/payments/callback", PaymentCallback)
	router.GET("/payments/:bill_id", GetPaymentInfo)
	return router
}

func TestCreateBillsPreflightRejectsLowBalance(t *testing.T) {
	mock := setupTest(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT points FROM accounts WHERE id = $1")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"points"}).AddRow(1))

	body, _ := json.Marshal(bursar.CreateBillsRequest{StudentIDs: []int64{2, 3, 4}})
	req := httptest.NewRequest(http.MethodPost, "/bills/batch", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	testRouter(1).ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", w.Code, w.Body.String())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateBillsReturnsPrefixOnFailure(t *testing.T) {
	mock := setupTest(t)

	// Preflight balance check
	mock.ExpectQuery(regexp.QuoteMeta("SELECT points FROM accounts WHERE id = $1")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"points"}).AddRow(5))

	// First student succeeds
	expectBillCreation(mock, 1, 2, 7, []int64{50, 30}, 4)

	// Second student does not exist; the batch aborts but keeps the prefix
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT points FROM accounts WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"points"}).AddRow(4))
	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE id = $1")).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "academy_id", "student_name", "grade", "phone_number", "email"}))
	mock.ExpectRollback()

	body, _ := json.Marshal(bursar.CreateBillsRequest{StudentIDs: []int64{2, 99}})
	req := httptest.NewRequest(http.MethodPost, "/bills/batch", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	testRouter(1).ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d: %s", w.Code, w.Body.String())
	}

	var resp bursar.CreateBillsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Bills) != 1 {
		t.Fatalf("expected 1 bill in prefix, got %d", len(resp.Bills))
	}
	if resp.Bills[0].BillID != 7 {
		t.Errorf("expected bill 7 in prefix, got %d", resp.Bills[0].BillID)
	}
	if !strings.Contains(resp.Error, "student 99") {
		t.Errorf("expected error to name the failing student, got: %s", resp.Error)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetBillDetail(t *testing.T) {
	mock := setupTest(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT a.academy_name, b.total_price")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"academy_name", "total_price"}).AddRow("한빛학원", 80))

	req := httptest.NewRequest(http.MethodGet, "/bills/7", nil)
	w := httptest.NewRecorder()
	testRouter(1).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp bursar.BillDetailResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Reason != "tuition" {
		t.Errorf("expected reason tuition, got %s", resp.Reason)
	}
	if resp.TotalPrice != 80 {
		t.Errorf("expected total price 80, got %d", resp.TotalPrice)
	}
}

func TestGetBillDetailNotFound(t *testing.T) {
	mock := setupTest(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT a.academy_name, b.total_price")).
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows([]string{"academy_name", "total_price"}))

	req := httptest.NewRequest(http.MethodGet, "/bills/404", nil)
	w := httptest.NewRecorder()
	testRouter(1).ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetBillLogsEmptyPage(t *testing.T) {
	mock := setupTest(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT bl.id, bl.bill_id, bl.remaining_points, bl.created_at")).
		WithArgs(int64(1), 10, 90).
		WillReturnRows(sqlmock.NewRows([]string{"id", "bill_id", "remaining_points", "created_at"}))

	req := httptest.NewRequest(http.MethodGet, "/bills/logs?page=10", nil)
	w := httptest.NewRecorder()
	testRouter(1).ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for empty page, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetBillLogs(t *testing.T) {
	mock := setupTest(t)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT bl.id, bl.bill_id, bl.remaining_points, bl.created_at")).
		WithArgs(int64(1), 10, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "bill_id", "remaining_points", "created_at"}).
			AddRow(1, 7, 4, now).
			AddRow(2, 8, 3, now))

	req := httptest.NewRequest(http.MethodGet, "/bills/logs", nil)
	w := httptest.NewRecorder()
	testRouter(1).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp bursar.BillLogsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Logs) != 2 {
		t.Errorf("expected 2 logs, got %d", len(resp.Logs))
	}
	if resp.Total != 2 {
		t.Errorf("expected total 2, got %d", resp.Total)
	}
	if resp.Logs[0].RemainingPoints != 4 {
		t.Errorf("expected remaining points 4, got %d", resp.Logs[0].RemainingPoints)
	}
}
