// Package enrollments turns a completed payment into course enrollments.
package enrollments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coursehub/backend/internal/models"
)

// ErrNothingToEnroll is returned for a request naming neither a course nor a combo.
var ErrNothingToEnroll = errors.New("enrollment needs a course or a combo")

// Catalog resolves combos into member courses.
type Catalog interface {
	GetCombo(ctx context.Context, id uuid.UUID) (*models.CourseCombo, error)
}

// Store persists enrollments.
type Store interface {
	// CreateBatch inserts enrollments, skipping courses the student already has,
	// and bumps purchase_count for each inserted row. Returns the inserted rows.
	CreateBatch(ctx context.Context, items []models.Enrollment) ([]models.Enrollment, error)
}

// EnrollRequest names what was bought, by whom, and with which payment.
type EnrollRequest struct {
	StudentID uuid.UUID
	CourseID  *uuid.UUID
	ComboID   *uuid.UUID
	Payment   *models.Payment
}

// Service creates enrollments. Repeating a request creates nothing new.
type Service struct {
	catalog Catalog
	store   Store
	logger  *zap.Logger
}

// NewService creates an enrollment service.
func NewService(catalog Catalog, store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{catalog: catalog, store: store, logger: logger}
}

// Enroll creates one enrollment per purchased course. Combo purchases split the
// amount paid evenly across member courses; the last course absorbs rounding.
func (s *Service) Enroll(ctx context.Context, req EnrollRequest) ([]models.Enrollment, error) {
	var paid decimal.Decimal
	var paymentID *uuid.UUID
	var voucherCode *string
	if req.Payment != nil {
		paid = req.Payment.Amount
		paymentID = &req.Payment.ID
		voucherCode = req.Payment.VoucherCode
	}

	var items []models.Enrollment
	switch {
	case req.CourseID != nil:
		items = []models.Enrollment{{
			StudentID:   req.StudentID,
			CourseID:    *req.CourseID,
			PaymentID:   paymentID,
			VoucherCode: voucherCode,
			PricePaid:   paid,
		}}
	case req.ComboID != nil:
		combo, err := s.catalog.GetCombo(ctx, *req.ComboID)
		if err != nil {
			return nil, fmt.Errorf("load combo %s: %w", req.ComboID, err)
		}
		if len(combo.CourseIDs) == 0 {
			return nil, fmt.Errorf("combo %s has no courses", combo.ID)
		}
		prices := SplitPrice(paid, len(combo.CourseIDs))
		for i, courseID := range combo.CourseIDs {
			items = append(items, models.Enrollment{
				StudentID:   req.StudentID,
				CourseID:    courseID,
				ComboID:     req.ComboID,
				PaymentID:   paymentID,
				VoucherCode: voucherCode,
				PricePaid:   prices[i],
			})
		}
	default:
		return nil, ErrNothingToEnroll
	}

	created, err := s.store.CreateBatch(ctx, items)
	if err != nil {
		return nil, fmt.Errorf("create enrollments: %w", err)
	}
	s.logger.Info("enrollments created",
		zap.String("student_id", req.StudentID.String()),
		zap.Int("requested", len(items)),
		zap.Int("created", len(created)),
	)
	return created, nil
}

// SplitPrice divides total into n shares rounded to 2 places that sum to total.
func SplitPrice(total decimal.Decimal, n int) []decimal.Decimal {
	if n <= 0 {
		return nil
	}
	share := total.Div(decimal.NewFromInt(int64(n))).RoundDown(2)
	out := make([]decimal.Decimal, n)
	rest := total
	for i := 0; i < n-1; i++ {
		out[i] = share
		rest = rest.Sub(share)
	}
	out[n-1] = rest
	return out
}
