// Package payments creates gateway payment requests and settles them from
// gateway callbacks.
package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coursehub/backend/internal/catalog"
	"github.com/coursehub/backend/internal/enrollments"
	"github.com/coursehub/backend/internal/gateway"
	"github.com/coursehub/backend/internal/models"
	"github.com/coursehub/backend/internal/vouchers"
	"github.com/coursehub/backend/pkg/queue"
)

var (
	ErrInvalidRequest   = errors.New("invalid payment request")
	ErrNotPurchasable   = errors.New("item is not available for purchase")
	ErrNotFound         = errors.New("payment not found")
	ErrAlreadyProcessed = errors.New("payment already processed")
	ErrDuplicateTxnRef  = errors.New("duplicate transaction id")
	errTxnRefExhausted  = errors.New("could not allocate a unique transaction id")
)

const (
	maxTxnRefAttempts = 5
	// maxStoredResponseLen bounds the callback copy kept on the payment row.
	maxStoredResponseLen = 4096
)

// Store is the payment persistence the service needs.
type Store interface {
	Create(ctx context.Context, p *models.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	GetByTransactionID(ctx context.Context, txnID string) (*models.Payment, error)
	ListByStudent(ctx context.Context, studentID uuid.UUID, limit, offset int) ([]models.Payment, int, error)
	ListPending(ctx context.Context, limit, offset int) ([]models.Payment, int, error)
	// Settle moves a pending payment to a terminal state under a row lock.
	// It returns ErrAlreadyProcessed with the current row if the payment is no longer pending.
	Settle(ctx context.Context, txnID string, s Settlement) (*models.Payment, error)
}

// Settlement is the terminal state written by Settle.
type Settlement struct {
	Status   models.PaymentStatus
	PaidAt   *time.Time
	Response string
}

// Catalog looks up what is being bought.
type Catalog interface {
	GetCourse(ctx context.Context, id uuid.UUID) (*models.Course, error)
	GetCombo(ctx context.Context, id uuid.UUID) (*models.CourseCombo, error)
}

// VoucherEvaluator computes voucher discounts.
type VoucherEvaluator interface {
	Evaluate(ctx context.Context, req vouchers.EvaluateRequest) (*vouchers.Discount, error)
}

// Gateway signs redirects, verifies callbacks and queries status.
type Gateway interface {
	PaymentURL(p gateway.PaymentParams) (string, error)
	VerifyCallback(params map[string]string) bool
	QueryStatus(ctx context.Context, q gateway.QueryParams) (*gateway.QueryResult, error)
}

// Enroller provisions enrollments for a completed payment.
type Enroller interface {
	Enroll(ctx context.Context, req enrollments.EnrollRequest) ([]models.Enrollment, error)
}

// RetryQueue takes enrollment work that failed inline.
type RetryQueue interface {
	EnqueueEnrollment(ctx context.Context, payload queue.EnrollmentPayload) error
}

// Archiver keeps the full raw callback payload.
type Archiver interface {
	ArchiveCallback(ctx context.Context, transactionID string, raw []byte) (string, error)
}

// Options configures a Service. Queue and Archiver are optional.
type Options struct {
	MinAmount decimal.Decimal
	Queue     RetryQueue
	Archiver  Archiver
	Logger    *zap.Logger
}

// Service implements payment creation, callback processing and status queries.
type Service struct {
	store     Store
	catalog   Catalog
	vouchers  VoucherEvaluator
	gateway   Gateway
	enroller  Enroller
	queue     RetryQueue
	archiver  Archiver
	minAmount decimal.Decimal
	now       func() time.Time
	newTxnRef func(time.Time) (string, error)
	logger    *zap.Logger
}

// NewService wires a payment service.
func NewService(store Store, cat Catalog, ve VoucherEvaluator, gw Gateway, enroller Enroller, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		catalog:   cat,
		vouchers:  ve,
		gateway:   gw,
		enroller:  enroller,
		queue:     opts.Queue,
		archiver:  opts.Archiver,
		minAmount: opts.MinAmount,
		now:       time.Now,
		newTxnRef: NewTransactionID,
		logger:    logger,
	}
}

// CreateRequest is one checkout. Exactly one of CourseID/ComboID must be set.
// Amount is optional; when set it must equal the catalog price.
type CreateRequest struct {
	StudentID   uuid.UUID
	CourseID    *uuid.UUID
	ComboID     *uuid.UUID
	Amount      decimal.Decimal
	VoucherCode string
	SuccessURL  string
	CancelURL   string
	ClientIP    string
}

// CreateResult is what the client needs to redirect the user.
type CreateResult struct {
	RedirectURL   string          `json:"redirect_url"`
	TransactionID string          `json:"transaction_id"`
	Payment       *models.Payment `json:"payment"`
}

// CreatePaymentRequest validates the purchase, applies an optional voucher,
// stores a pending payment and returns the signed gateway URL.
func (s *Service) CreatePaymentRequest(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if req.StudentID == uuid.Nil {
		return nil, fmt.Errorf("%w: student is required", ErrInvalidRequest)
	}
	if (req.CourseID == nil) == (req.ComboID == nil) {
		return nil, fmt.Errorf("%w: exactly one of course_id or combo_id is required", ErrInvalidRequest)
	}
	if req.Amount.IsNegative() {
		return nil, fmt.Errorf("%w: amount cannot be negative", ErrInvalidRequest)
	}

	title, price, err := s.resolveItem(ctx, req.CourseID, req.ComboID)
	if err != nil {
		return nil, err
	}
	// The catalog price is authoritative; a client-sent amount is only a confirmation.
	amount := price
	if !req.Amount.IsZero() && !req.Amount.Equal(price) {
		return nil, fmt.Errorf("%w: amount %s does not match the price %s", ErrInvalidRequest, req.Amount.String(), price.String())
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be greater than zero", ErrInvalidRequest)
	}
	if amount.LessThan(s.minAmount) {
		return nil, fmt.Errorf("%w: amount is below the gateway minimum of %s", ErrInvalidRequest, s.minAmount.String())
	}

	final := amount
	var voucherID *uuid.UUID
	var voucherCode *string
	if req.VoucherCode != "" {
		d, err := s.vouchers.Evaluate(ctx, vouchers.EvaluateRequest{
			Code:      req.VoucherCode,
			Amount:    amount,
			CourseID:  req.CourseID,
			ComboID:   req.ComboID,
			StudentID: req.StudentID,
		})
		if err != nil {
			return nil, err
		}
		final = amount.Sub(d.Amount)
		if final.LessThan(s.minAmount) {
			final = s.minAmount
		}
		voucherID = &d.VoucherID
		code := d.Code
		voucherCode = &code
	}

	now := s.now()
	p := &models.Payment{
		Amount:             final,
		OriginalAmount:     amount,
		DiscountAmount:     amount.Sub(final),
		VoucherID:          voucherID,
		VoucherCode:        voucherCode,
		Status:             models.PaymentStatusPending,
		Method:             models.PaymentMethodVNPay,
		StudentID:          req.StudentID,
		CourseID:           req.CourseID,
		ComboID:            req.ComboID,
		SuccessRedirectURL: req.SuccessURL,
		CancelRedirectURL:  req.CancelURL,
		ClientIP:           req.ClientIP,
		CreatedAt:          now,
	}
	if err := s.createWithUniqueTxnRef(ctx, p, title, now); err != nil {
		return nil, err
	}

	redirect, err := s.gateway.PaymentURL(gateway.PaymentParams{
		TransactionID: p.TransactionID,
		Amount:        p.Amount,
		OrderInfo:     p.OrderInfo,
		ClientIP:      req.ClientIP,
		CreatedAt:     now,
	})
	if err != nil {
		return nil, fmt.Errorf("build payment url: %w", err)
	}

	s.logger.Info("payment created",
		zap.String("transaction_id", p.TransactionID),
		zap.String("student_id", p.StudentID.String()),
		zap.String("amount", p.Amount.String()),
		zap.String("discount", p.DiscountAmount.String()),
	)
	return &CreateResult{RedirectURL: redirect, TransactionID: p.TransactionID, Payment: p}, nil
}

func (s *Service) resolveItem(ctx context.Context, courseID, comboID *uuid.UUID) (title string, price decimal.Decimal, err error) {
	if courseID != nil {
		c, err := s.catalog.GetCourse(ctx, *courseID)
		if errors.Is(err, catalog.ErrNotFound) {
			return "", decimal.Zero, fmt.Errorf("%w: course not found", ErrInvalidRequest)
		}
		if err != nil {
			return "", decimal.Zero, fmt.Errorf("load course: %w", err)
		}
		if !c.Purchasable() {
			return "", decimal.Zero, fmt.Errorf("%w: course is not approved", ErrNotPurchasable)
		}
		return c.Title, c.Price, nil
	}
	cb, err := s.catalog.GetCombo(ctx, *comboID)
	if errors.Is(err, catalog.ErrNotFound) {
		return "", decimal.Zero, fmt.Errorf("%w: combo not found", ErrInvalidRequest)
	}
	if err != nil {
		return "", decimal.Zero, fmt.Errorf("load combo: %w", err)
	}
	if !cb.Purchasable(s.now()) {
		return "", decimal.Zero, fmt.Errorf("%w: combo is inactive or expired", ErrNotPurchasable)
	}
	return cb.Title, cb.Price, nil
}

func (s *Service) createWithUniqueTxnRef(ctx context.Context, p *models.Payment, title string, now time.Time) error {
	for attempt := 0; attempt < maxTxnRefAttempts; attempt++ {
		ref, err := s.newTxnRef(now)
		if err != nil {
			return fmt.Errorf("generate transaction id: %w", err)
		}
		p.TransactionID = ref
		p.OrderInfo = OrderInfo(title, ref)
		err = s.store.Create(ctx, p)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrDuplicateTxnRef) {
			return fmt.Errorf("store payment: %w", err)
		}
		s.logger.Warn("transaction id collision, regenerating", zap.String("transaction_id", ref))
	}
	return errTxnRefExhausted
}

// ReturnOutcome classifies a processed callback.
type ReturnOutcome string

const (
	OutcomeCompleted        ReturnOutcome = "completed"
	OutcomeFailed           ReturnOutcome = "failed"
	OutcomeAlreadyProcessed ReturnOutcome = "already_processed"
	OutcomeNotFound         ReturnOutcome = "not_found"
	OutcomeInvalidSignature ReturnOutcome = "invalid_signature"
	OutcomeAmountMismatch   ReturnOutcome = "amount_mismatch"
)

// ReturnResult is the outcome of ProcessReturn. Payment is nil when none was identified.
type ReturnResult struct {
	Outcome           ReturnOutcome   `json:"outcome"`
	Message           string          `json:"message"`
	ResponseCode      string          `json:"response_code,omitempty"`
	EnrollmentPending bool            `json:"enrollment_pending,omitempty"`
	Payment           *models.Payment `json:"payment,omitempty"`
}

// ProcessReturn authenticates a gateway callback and settles the payment it names.
// Forged, unknown and repeated callbacks mutate nothing.
func (s *Service) ProcessReturn(ctx context.Context, params map[string]string) (*ReturnResult, error) {
	txnRef := params[gateway.ParamTxnRef]
	if !s.gateway.VerifyCallback(params) {
		s.logger.Warn("callback signature mismatch", zap.String("transaction_id", txnRef))
		return &ReturnResult{Outcome: OutcomeInvalidSignature, Message: "payment verification failed"}, nil
	}

	p, err := s.store.GetByTransactionID(ctx, txnRef)
	if errors.Is(err, ErrNotFound) {
		s.logger.Warn("callback for unknown transaction", zap.String("transaction_id", txnRef))
		return &ReturnResult{Outcome: OutcomeNotFound, Message: "payment not found"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load payment: %w", err)
	}
	if p.Status.IsTerminal() {
		return s.alreadyProcessed(p), nil
	}
	if wire := params[gateway.ParamAmount]; wire != gateway.WireAmount(p.Amount) {
		s.logger.Error("callback amount mismatch",
			zap.String("transaction_id", txnRef),
			zap.String("callback_amount", wire),
			zap.String("expected_amount", gateway.WireAmount(p.Amount)),
		)
		return &ReturnResult{Outcome: OutcomeAmountMismatch, Message: "payment amount mismatch", Payment: p}, nil
	}

	raw := gateway.EncodeParams(params)
	code := params[gateway.ParamResponseCode]
	settlement := Settlement{Status: models.PaymentStatusFailed, Response: truncate(raw, maxStoredResponseLen)}
	if gateway.CallbackSucceeded(params) {
		paidAt := s.now()
		settlement.Status = models.PaymentStatusCompleted
		settlement.PaidAt = &paidAt
	}

	p, err = s.store.Settle(ctx, txnRef, settlement)
	if errors.Is(err, ErrAlreadyProcessed) {
		return s.alreadyProcessed(p), nil
	}
	if err != nil {
		return nil, fmt.Errorf("settle payment: %w", err)
	}
	s.archive(ctx, txnRef, raw)

	if p.Status == models.PaymentStatusFailed {
		s.logger.Info("payment failed", zap.String("transaction_id", txnRef), zap.String("response_code", code))
		return &ReturnResult{
			Outcome:      OutcomeFailed,
			Message:      fmt.Sprintf("payment failed with response code %s", code),
			ResponseCode: code,
			Payment:      p,
		}, nil
	}

	s.logger.Info("payment completed", zap.String("transaction_id", txnRef), zap.String("amount", p.Amount.String()))
	result := &ReturnResult{Outcome: OutcomeCompleted, Message: "payment completed", ResponseCode: code, Payment: p}
	if err := s.TriggerEnrollment(ctx, p); err != nil {
		// The customer paid; the payment stays completed and enrollment is retried.
		s.logger.Error("enrollment after payment failed", zap.String("transaction_id", txnRef), zap.Error(err))
		result.EnrollmentPending = true
		s.scheduleEnrollmentRetry(ctx, p)
	}
	return result, nil
}

func (s *Service) alreadyProcessed(p *models.Payment) *ReturnResult {
	s.logger.Info("callback for already processed payment",
		zap.String("transaction_id", p.TransactionID),
		zap.String("status", string(p.Status)),
	)
	return &ReturnResult{Outcome: OutcomeAlreadyProcessed, Message: "payment already processed", Payment: p}
}

// TriggerEnrollment creates the enrollments a completed payment paid for.
func (s *Service) TriggerEnrollment(ctx context.Context, p *models.Payment) error {
	if p.Status != models.PaymentStatusCompleted {
		return fmt.Errorf("payment %s is %s, not completed", p.TransactionID, p.Status)
	}
	_, err := s.enroller.Enroll(ctx, enrollments.EnrollRequest{
		StudentID: p.StudentID,
		CourseID:  p.CourseID,
		ComboID:   p.ComboID,
		Payment:   p,
	})
	return err
}

func (s *Service) scheduleEnrollmentRetry(ctx context.Context, p *models.Payment) {
	if s.queue == nil {
		s.logger.Error("no retry queue configured; enrollment needs manual reconciliation", zap.String("transaction_id", p.TransactionID))
		return
	}
	err := s.queue.EnqueueEnrollment(ctx, queue.EnrollmentPayload{PaymentID: p.ID, TransactionID: p.TransactionID})
	if err != nil {
		s.logger.Error("enqueue enrollment retry failed", zap.String("transaction_id", p.TransactionID), zap.Error(err))
	}
}

func (s *Service) archive(ctx context.Context, txnRef, raw string) {
	if s.archiver == nil {
		return
	}
	if _, err := s.archiver.ArchiveCallback(ctx, txnRef, []byte(raw)); err != nil {
		s.logger.Warn("archive callback failed", zap.String("transaction_id", txnRef), zap.Error(err))
	}
}

// GetByID returns a payment by ID.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return s.store.GetByID(ctx, id)
}

// GetByTransactionID returns a payment by its transaction id.
func (s *Service) GetByTransactionID(ctx context.Context, txnID string) (*models.Payment, error) {
	return s.store.GetByTransactionID(ctx, txnID)
}

// ListByStudent returns a page of the student's payments, newest first.
func (s *Service) ListByStudent(ctx context.Context, studentID uuid.UUID, limit, offset int) ([]models.Payment, int, error) {
	return s.store.ListByStudent(ctx, studentID, limit, offset)
}

// ListPending returns a page of pending payments, oldest first.
func (s *Service) ListPending(ctx context.Context, limit, offset int) ([]models.Payment, int, error) {
	return s.store.ListPending(ctx, limit, offset)
}

// QueryStatus asks the gateway for a transaction's authoritative status.
// It does not change the stored payment. A gateway timeout yields gateway.ErrStatusUnknown.
func (s *Service) QueryStatus(ctx context.Context, txnID, clientIP string) (*gateway.QueryResult, error) {
	p, err := s.store.GetByTransactionID(ctx, txnID)
	if err != nil {
		return nil, err
	}
	return s.gateway.QueryStatus(ctx, gateway.QueryParams{
		TransactionID:   p.TransactionID,
		OrderInfo:       p.OrderInfo,
		TransactionDate: p.CreatedAt,
		ClientIP:        clientIP,
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
