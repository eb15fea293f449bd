package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus is the lifecycle state of a payment. Completed and failed are terminal.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}

// PaymentMethod is the gateway a payment goes through.
type PaymentMethod string

const (
	PaymentMethodVNPay PaymentMethod = "vnpay"
)

// Payment is one purchase attempt of a course or a combo by a student.
type Payment struct {
	ID                 uuid.UUID       `json:"id"`
	TransactionID      string          `json:"transaction_id"`
	OrderInfo          string          `json:"order_info"`
	Amount             decimal.Decimal `json:"amount"`
	OriginalAmount     decimal.Decimal `json:"original_amount"`
	DiscountAmount     decimal.Decimal `json:"discount_amount"`
	VoucherID          *uuid.UUID      `json:"voucher_id,omitempty"`
	VoucherCode        *string         `json:"voucher_code,omitempty"`
	Status             PaymentStatus   `json:"status"`
	Method             PaymentMethod   `json:"method"`
	StudentID          uuid.UUID       `json:"student_id"`
	CourseID           *uuid.UUID      `json:"course_id,omitempty"`
	ComboID            *uuid.UUID      `json:"combo_id,omitempty"`
	SuccessRedirectURL string          `json:"success_redirect_url,omitempty"`
	CancelRedirectURL  string          `json:"cancel_redirect_url,omitempty"`
	ClientIP           string          `json:"-"`
	PaymentResponse    *string         `json:"payment_response,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	PaidAt             *time.Time      `json:"paid_at,omitempty"`
}
