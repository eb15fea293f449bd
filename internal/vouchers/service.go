package vouchers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coursehub/backend/internal/models"
)

// Rejection reasons returned by Evaluate. Callers match them with errors.Is.
var (
	ErrInvalidCode         = errors.New("invalid or expired voucher code")
	ErrMinimumPurchase     = errors.New("purchase amount is below the voucher minimum")
	ErrUsageLimitReached   = errors.New("voucher usage limit reached")
	ErrPerUserLimitReached = errors.New("voucher already used the maximum number of times by this student")
	ErrNotApplicable       = errors.New("voucher is not applicable to this purchase")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")

	ErrNotFound     = errors.New("voucher not found")
	ErrCodeConflict = errors.New("an active voucher with this code already exists")
	ErrInvalidInput = errors.New("invalid voucher")
)

var hundred = decimal.NewFromInt(100)

// Store is the persistence the service needs.
type Store interface {
	FindActiveByCode(ctx context.Context, code string, at time.Time) (*models.Voucher, error)
	CountUsageByStudent(ctx context.Context, voucherID, studentID uuid.UUID) (int, error)
	Create(ctx context.Context, v *models.Voucher) error
	Update(ctx context.Context, v *models.Voucher) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Voucher, error)
	GetByCode(ctx context.Context, code string) (*models.Voucher, error)
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]models.Voucher, int, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
}

// EvaluateRequest is one discount calculation. At most one of CourseID/ComboID is expected.
type EvaluateRequest struct {
	Code      string
	Amount    decimal.Decimal
	CourseID  *uuid.UUID
	ComboID   *uuid.UUID
	StudentID uuid.UUID
}

// Discount is the result of a successful evaluation.
type Discount struct {
	VoucherID   uuid.UUID       `json:"voucher_id"`
	Code        string          `json:"code"`
	Amount      decimal.Decimal `json:"discount_amount"`
	FinalAmount decimal.Decimal `json:"final_amount"`
}

// Service evaluates and administers vouchers.
type Service struct {
	store  Store
	now    func() time.Time
	logger *zap.Logger
}

// NewService creates a voucher service.
func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, now: time.Now, logger: logger}
}

// NormalizeCode is how codes are stored and looked up.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Evaluate checks a voucher against a purchase and returns the discount.
// It never records a usage; redemption happens when the payment completes.
func (s *Service) Evaluate(ctx context.Context, req EvaluateRequest) (*Discount, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	v, err := s.store.FindActiveByCode(ctx, NormalizeCode(req.Code), s.now())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCode
		}
		return nil, fmt.Errorf("find voucher: %w", err)
	}

	if v.MinimumPurchaseAmount.Valid && req.Amount.LessThan(v.MinimumPurchaseAmount.Decimal) {
		return nil, fmt.Errorf("%w: minimum is %s", ErrMinimumPurchase, v.MinimumPurchaseAmount.Decimal.String())
	}
	if v.TotalUsageLimit != nil && v.UsageCount >= *v.TotalUsageLimit {
		return nil, ErrUsageLimitReached
	}
	if v.PerUserLimit != nil {
		used, err := s.store.CountUsageByStudent(ctx, v.ID, req.StudentID)
		if err != nil {
			return nil, fmt.Errorf("count voucher usage: %w", err)
		}
		if used >= *v.PerUserLimit {
			return nil, ErrPerUserLimitReached
		}
	}
	if !inScope(v, req.CourseID, req.ComboID) {
		return nil, ErrNotApplicable
	}

	discount := ComputeDiscount(v, req.Amount)
	return &Discount{
		VoucherID:   v.ID,
		Code:        v.Code,
		Amount:      discount,
		FinalAmount: req.Amount.Sub(discount),
	}, nil
}

// ComputeDiscount applies the voucher's type and cap to amount. The result is
// never negative and never exceeds amount.
func ComputeDiscount(v *models.Voucher, amount decimal.Decimal) decimal.Decimal {
	var d decimal.Decimal
	switch v.DiscountType {
	case models.DiscountPercentage:
		d = amount.Mul(v.DiscountValue).Div(hundred).Round(2)
	case models.DiscountFixedAmount:
		d = decimal.Min(v.DiscountValue, amount)
	}
	if v.MaximumDiscountAmount.Valid && d.GreaterThan(v.MaximumDiscountAmount.Decimal) {
		d = v.MaximumDiscountAmount.Decimal
	}
	if d.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(d, amount)
}

// inScope: a restricted voucher needs the purchased item in the matching set.
func inScope(v *models.Voucher, courseID, comboID *uuid.UUID) bool {
	if len(v.ApplicableCourses) == 0 && len(v.ApplicableCombos) == 0 {
		return true
	}
	if courseID != nil && contains(v.ApplicableCourses, *courseID) {
		return true
	}
	if comboID != nil && contains(v.ApplicableCombos, *comboID) {
		return true
	}
	return false
}

func contains(ids []uuid.UUID, id uuid.UUID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// Create validates and stores a new voucher.
func (s *Service) Create(ctx context.Context, v *models.Voucher) error {
	v.Code = NormalizeCode(v.Code)
	if err := validate(v); err != nil {
		return err
	}
	v.IsActive = true
	v.UsageCount = 0
	if err := s.store.Create(ctx, v); err != nil {
		return err
	}
	s.logger.Info("voucher created", zap.String("code", v.Code), zap.String("type", string(v.DiscountType)))
	return nil
}

// Update replaces the editable fields of an existing voucher. Usage counters are kept.
func (s *Service) Update(ctx context.Context, v *models.Voucher) error {
	existing, err := s.store.GetByID(ctx, v.ID)
	if err != nil {
		return err
	}
	v.Code = NormalizeCode(v.Code)
	v.UsageCount = existing.UsageCount
	v.IsActive = existing.IsActive
	v.CreatedBy = existing.CreatedBy
	if err := validate(v); err != nil {
		return err
	}
	return s.store.Update(ctx, v)
}

// Get returns a voucher by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Voucher, error) {
	return s.store.GetByID(ctx, id)
}

// GetByCode returns the active voucher for code.
func (s *Service) GetByCode(ctx context.Context, code string) (*models.Voucher, error) {
	return s.store.GetByCode(ctx, NormalizeCode(code))
}

// List returns a page of vouchers, newest first.
func (s *Service) List(ctx context.Context, activeOnly bool, limit, offset int) ([]models.Voucher, int, error) {
	return s.store.List(ctx, activeOnly, limit, offset)
}

// Deactivate soft-deletes a voucher.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	if err := s.store.Deactivate(ctx, id); err != nil {
		return err
	}
	s.logger.Info("voucher deactivated", zap.String("voucher_id", id.String()))
	return nil
}

func validate(v *models.Voucher) error {
	switch {
	case v.Code == "":
		return fmt.Errorf("%w: code is required", ErrInvalidInput)
	case v.DiscountType != models.DiscountPercentage && v.DiscountType != models.DiscountFixedAmount:
		return fmt.Errorf("%w: unknown discount type %q", ErrInvalidInput, v.DiscountType)
	case !v.DiscountValue.IsPositive():
		return fmt.Errorf("%w: discount value must be positive", ErrInvalidInput)
	case v.DiscountType == models.DiscountPercentage && v.DiscountValue.GreaterThan(hundred):
		return fmt.Errorf("%w: percentage cannot exceed 100", ErrInvalidInput)
	case v.ValidUntil.Before(v.ValidFrom):
		return fmt.Errorf("%w: valid_until is before valid_from", ErrInvalidInput)
	case v.TotalUsageLimit != nil && *v.TotalUsageLimit < 0, v.PerUserLimit != nil && *v.PerUserLimit < 0:
		return fmt.Errorf("%w: usage limits cannot be negative", ErrInvalidInput)
	}
	return nil
}
