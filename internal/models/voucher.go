package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DiscountType is how a voucher's discount value is interpreted.
type DiscountType string

const (
	DiscountPercentage  DiscountType = "percentage"
	DiscountFixedAmount DiscountType = "fixed_amount"
)

// Voucher is a discount code. Empty applicable sets mean it applies to everything.
type Voucher struct {
	ID                    uuid.UUID           `json:"id"`
	Code                  string              `json:"code"`
	Description           string              `json:"description,omitempty"`
	DiscountType          DiscountType        `json:"discount_type"`
	DiscountValue         decimal.Decimal     `json:"discount_value"`
	MinimumPurchaseAmount decimal.NullDecimal `json:"minimum_purchase_amount"`
	MaximumDiscountAmount decimal.NullDecimal `json:"maximum_discount_amount"`
	ValidFrom             time.Time           `json:"valid_from"`
	ValidUntil            time.Time           `json:"valid_until"`
	TotalUsageLimit       *int                `json:"total_usage_limit,omitempty"`
	PerUserLimit          *int                `json:"per_user_limit,omitempty"`
	UsageCount            int                 `json:"usage_count"`
	ApplicableCourses     []uuid.UUID         `json:"applicable_courses"`
	ApplicableCombos      []uuid.UUID         `json:"applicable_combos"`
	IsActive              bool                `json:"is_active"`
	CreatedBy             *uuid.UUID          `json:"created_by,omitempty"`
	CreatedAt             time.Time           `json:"created_at"`
	UpdatedAt             time.Time           `json:"updated_at"`
}

// VoucherUsage records one redemption of a voucher by a student.
type VoucherUsage struct {
	ID        uuid.UUID `json:"id"`
	VoucherID uuid.UUID `json:"voucher_id"`
	StudentID uuid.UUID `json:"student_id"`
	PaymentID uuid.UUID `json:"payment_id"`
	UsedAt    time.Time `json:"used_at"`
}
