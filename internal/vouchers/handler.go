package vouchers

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coursehub/backend/internal/middleware"
	"github.com/coursehub/backend/internal/models"
	"github.com/coursehub/backend/pkg/response"
)

// VoucherRequest is the body for POST /vouchers and PUT /vouchers/:id.
type VoucherRequest struct {
	Code                  string              `json:"code" binding:"required,min=3,max=64"`
	Description           string              `json:"description"`
	DiscountType          models.DiscountType `json:"discount_type" binding:"required,oneof=percentage fixed_amount"`
	DiscountValue         decimal.Decimal     `json:"discount_value"`
	MinimumPurchaseAmount decimal.NullDecimal `json:"minimum_purchase_amount"`
	MaximumDiscountAmount decimal.NullDecimal `json:"maximum_discount_amount"`
	ValidFrom             time.Time           `json:"valid_from" binding:"required"`
	ValidUntil            time.Time           `json:"valid_until" binding:"required"`
	TotalUsageLimit       *int                `json:"total_usage_limit"`
	PerUserLimit          *int                `json:"per_user_limit"`
	ApplicableCourses     []uuid.UUID         `json:"applicable_courses"`
	ApplicableCombos      []uuid.UUID         `json:"applicable_combos"`
}

func (r *VoucherRequest) toModel() *models.Voucher {
	return &models.Voucher{
		Code:                  r.Code,
		Description:           r.Description,
		DiscountType:          r.DiscountType,
		DiscountValue:         r.DiscountValue,
		MinimumPurchaseAmount: r.MinimumPurchaseAmount,
		MaximumDiscountAmount: r.MaximumDiscountAmount,
		ValidFrom:             r.ValidFrom,
		ValidUntil:            r.ValidUntil,
		TotalUsageLimit:       r.TotalUsageLimit,
		PerUserLimit:          r.PerUserLimit,
		ApplicableCourses:     r.ApplicableCourses,
		ApplicableCombos:      r.ApplicableCombos,
	}
}

// CalculateRequest is the body for POST /vouchers/calculate.
type CalculateRequest struct {
	Code     string          `json:"code" binding:"required"`
	Amount   decimal.Decimal `json:"amount"`
	CourseID *uuid.UUID      `json:"course_id"`
	ComboID  *uuid.UUID      `json:"combo_id"`
}

// Handler handles voucher HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a vouchers handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Calculate handles POST /vouchers/calculate. Returns the discount without redeeming the voucher.
func (h *Handler) Calculate(c *gin.Context) {
	studentID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	var req CalculateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	d, err := h.svc.Evaluate(c.Request.Context(), EvaluateRequest{
		Code:      req.Code,
		Amount:    req.Amount,
		CourseID:  req.CourseID,
		ComboID:   req.ComboID,
		StudentID: studentID,
	})
	if err != nil {
		h.writeError(c, err, "failed to calculate discount")
		return
	}
	response.OK(c, d)
}

// Create handles POST /vouchers (admin).
func (h *Handler) Create(c *gin.Context) {
	var req VoucherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	v := req.toModel()
	if adminID, ok := middleware.UserID(c); ok {
		v.CreatedBy = &adminID
	}
	if err := h.svc.Create(c.Request.Context(), v); err != nil {
		h.writeError(c, err, "failed to create voucher")
		return
	}
	response.Created(c, v)
}

// Update handles PUT /vouchers/:id (admin).
func (h *Handler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid voucher id")
		return
	}
	var req VoucherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	v := req.toModel()
	v.ID = id
	if err := h.svc.Update(c.Request.Context(), v); err != nil {
		h.writeError(c, err, "failed to update voucher")
		return
	}
	response.OK(c, v)
}

// Get handles GET /vouchers/:id (admin).
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid voucher id")
		return
	}
	v, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err, "failed to load voucher")
		return
	}
	response.OK(c, v)
}

// List handles GET /vouchers?active=true&page=&page_size= (admin).
func (h *Handler) List(c *gin.Context) {
	page, size := response.Pagination(c)
	activeOnly := c.Query("active") == "true"
	list, total, err := h.svc.List(c.Request.Context(), activeOnly, size, (page-1)*size)
	if err != nil {
		h.logger.Error("list vouchers failed", zap.Error(err))
		response.Internal(c, "failed to list vouchers")
		return
	}
	response.Paged(c, list, page, size, total)
}

// Delete handles DELETE /vouchers/:id (admin). Soft delete.
func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid voucher id")
		return
	}
	if err := h.svc.Deactivate(c.Request.Context(), id); err != nil {
		h.writeError(c, err, "failed to delete voucher")
		return
	}
	response.NoContent(c)
}

func (h *Handler) writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidInput):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrInvalidCode), errors.Is(err, ErrMinimumPurchase), errors.Is(err, ErrUsageLimitReached),
		errors.Is(err, ErrPerUserLimitReached), errors.Is(err, ErrNotApplicable):
		response.UnprocessableEntity(c, err.Error())
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrCodeConflict):
		response.Conflict(c, err.Error())
	default:
		h.logger.Error(fallback, zap.Error(err))
		response.Internal(c, fallback)
	}
}
