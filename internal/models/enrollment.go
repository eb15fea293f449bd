package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Enrollment grants a student access to a course.
type Enrollment struct {
	ID          uuid.UUID       `json:"id"`
	StudentID   uuid.UUID       `json:"student_id"`
	CourseID    uuid.UUID       `json:"course_id"`
	ComboID     *uuid.UUID      `json:"combo_id,omitempty"`
	PaymentID   *uuid.UUID      `json:"payment_id,omitempty"`
	VoucherCode *string         `json:"voucher_code,omitempty"`
	PricePaid   decimal.Decimal `json:"price_paid"`
	EnrolledAt  time.Time       `json:"enrolled_at"`
}
