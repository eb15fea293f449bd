package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CourseStatus values. Only approved courses can be purchased.
const (
	CourseStatusDraft    = "draft"
	CourseStatusPending  = "pending"
	CourseStatusApproved = "approved"
	CourseStatusRejected = "rejected"
)

// Course is the catalog view of a course needed for checkout.
type Course struct {
	ID            uuid.UUID       `json:"id"`
	Title         string          `json:"title"`
	Price         decimal.Decimal `json:"price"`
	Status        string          `json:"status"`
	PurchaseCount int             `json:"purchase_count"`
}

// Purchasable reports whether the course can be bought.
func (c *Course) Purchasable() bool {
	return c.Status == CourseStatusApproved
}

// CourseCombo is a bundle of courses sold at one price.
type CourseCombo struct {
	ID        uuid.UUID       `json:"id"`
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"price"`
	IsActive  bool            `json:"is_active"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	CourseIDs []uuid.UUID     `json:"course_ids"`
}

// Purchasable reports whether the combo is active and not expired at now.
func (c *CourseCombo) Purchasable(now time.Time) bool {
	if !c.IsActive {
		return false
	}
	return c.ExpiresAt == nil || now.Before(*c.ExpiresAt)
}
