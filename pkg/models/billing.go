package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Bill lifecycle statuses. The transition is monotonic: a bill starts as
// StatusBefore and can only ever move to StatusPaid.
const (
	BillStatusBefore = "before"
	BillStatusPaid   = "paid"
)

// Account represents a billing account holding the prepaid point quota.
// One point funds the creation of exactly one bill.
type Account struct {
	ID        int64     `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Points    int64     `json:"points" db:"points"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Academy represents an academy that issues bills to its students
type Academy struct {
	ID          int64     `json:"id" db:"id"`
	AccountID   int64     `json:"account_id" db:"account_id"`
	AcademyName string    `json:"academy_name" db:"academy_name"`
	Email       string    `json:"email" db:"email"`
	PhoneNumber string    `json:"phone_number" db:"phone_number"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Student represents an enrolled student. AcademyID is nullable: a student
// record can exist before it is attached to an academy.
type Student struct {
	ID          int64         `json:"id" db:"id"`
	AcademyID   sql.NullInt64 `json:"academy_id" db:"academy_id"`
	StudentName string        `json:"student_name" db:"student_name"`
	Grade       string        `json:"grade" db:"grade"`
	PhoneNumber string        `json:"phone_number" db:"phone_number"`
	Email       string        `json:"email" db:"email"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
}

// Lecture represents a lecture a student can be enrolled in. Price is in
// integral currency units.
type Lecture struct {
	ID          int64     `json:"id" db:"id"`
	AcademyID   int64     `json:"academy_id" db:"academy_id"`
	LectureName string    `json:"lecture_name" db:"lecture_name"`
	Price       int64     `json:"price" db:"price"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Bill represents a payable charge issued to a student. TotalPrice is a
// point-in-time snapshot of the student's enrolled lecture prices; it is
// never recomputed after creation.
type Bill struct {
	ID         int64      `json:"id" db:"id"`
	AcademyID  int64      `json:"academy_id" db:"academy_id"`
	StudentID  int64      `json:"student_id" db:"student_id"`
	DueDate    time.Time  `json:"due_date" db:"due_date"`
	Message    string     `json:"message" db:"message"`
	TotalPrice int64      `json:"total_price" db:"total_price"`
	Status     string     `json:"status" db:"status"`
	PaidAt     *time.Time `json:"paid_at,omitempty" db:"paid_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// BillLog is the immutable audit record written alongside every successful
// bill creation. RemainingPoints is the account balance immediately after
// the debit that funded the bill.
type BillLog struct {
	ID              int64     `json:"id" db:"id"`
	BillID          int64     `json:"bill_id" db:"bill_id"`
	RemainingPoints int64     `json:"remaining_points" db:"remaining_points"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// PaymentHistory records a settled payment. PaymentUID is the correlation id
// issued by the external payment gateway. At most one history row exists per
// bill.
type PaymentHistory struct {
	ID         uuid.UUID `json:"id" db:"id"`
	PaymentUID string    `json:"payment_uid" db:"payment_uid"`
	BillID     int64     `json:"bill_id" db:"bill_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Receipt is the document generated once a bill settles
type Receipt struct {
	ID          uuid.UUID `json:"id" db:"id"`
	BillID      int64     `json:"bill_id" db:"bill_id"`
	AcademyName string    `json:"academy_name" db:"academy_name"`
	StudentName string    `json:"student_name" db:"student_name"`
	Amount      int64     `json:"amount" db:"amount"`
	PaidAt      time.Time `json:"paid_at" db:"paid_at"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
