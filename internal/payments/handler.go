package payments

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coursehub/backend/internal/gateway"
	"github.com/coursehub/backend/internal/middleware"
	"github.com/coursehub/backend/internal/models"
	"github.com/coursehub/backend/internal/vouchers"
	"github.com/coursehub/backend/pkg/response"
)

// Gateway IPN acknowledgement codes.
const (
	ipnConfirmed        = "00"
	ipnNotFound         = "01"
	ipnAlreadyProcessed = "02"
	ipnInvalidAmount    = "04"
	ipnInvalidSignature = "97"
	ipnUnknownError     = "99"
)

// CreatePaymentRequest is the body for POST /payments.
type CreatePaymentRequest struct {
	CourseID    *uuid.UUID      `json:"course_id"`
	ComboID     *uuid.UUID      `json:"combo_id"`
	Amount      decimal.Decimal `json:"amount"`
	VoucherCode string          `json:"voucher_code"`
	SuccessURL  string          `json:"success_url" binding:"omitempty,url"`
	CancelURL   string          `json:"cancel_url" binding:"omitempty,url"`
}

// IPNResponse is the acknowledgement body the gateway expects.
type IPNResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// Handler handles payment HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a payments handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Create handles POST /payments.
func (h *Handler) Create(c *gin.Context) {
	studentID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.svc.CreatePaymentRequest(c.Request.Context(), CreateRequest{
		StudentID:   studentID,
		CourseID:    req.CourseID,
		ComboID:     req.ComboID,
		Amount:      req.Amount,
		VoucherCode: req.VoucherCode,
		SuccessURL:  req.SuccessURL,
		CancelURL:   req.CancelURL,
		ClientIP:    c.ClientIP(),
	})
	if err != nil {
		h.writeError(c, err, "failed to create payment")
		return
	}
	response.Created(c, res)
}

// Return handles GET /payments/return, the browser redirect back from the gateway.
// The user is sent on to the payment's success or cancel URL when one was given.
func (h *Handler) Return(c *gin.Context) {
	res, err := h.svc.ProcessReturn(c.Request.Context(), gateway.FlattenQuery(c.Request.URL.Query()))
	if err != nil {
		h.logger.Error("process payment return failed", zap.Error(err))
		response.Internal(c, "failed to process payment")
		return
	}
	switch res.Outcome {
	case OutcomeInvalidSignature, OutcomeAmountMismatch:
		response.BadRequest(c, res.Message)
		return
	case OutcomeNotFound:
		response.NotFound(c, res.Message)
		return
	}
	if target := redirectTarget(res.Payment); target != "" {
		c.Redirect(http.StatusFound, target)
		return
	}
	response.OK(c, res)
}

// redirectTarget appends the transaction id and status to the success URL for a
// completed payment and to the cancel URL otherwise.
func redirectTarget(p *models.Payment) string {
	base := p.CancelRedirectURL
	if p.Status == models.PaymentStatusCompleted {
		base = p.SuccessRedirectURL
	}
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("transaction_id", p.TransactionID)
	q.Set("status", string(p.Status))
	u.RawQuery = q.Encode()
	return u.String()
}

// IPN handles GET /payments/ipn, the gateway's server-to-server notification.
// It always answers 200 with the gateway's acknowledgement codes.
func (h *Handler) IPN(c *gin.Context) {
	res, err := h.svc.ProcessReturn(c.Request.Context(), gateway.FlattenQuery(c.Request.URL.Query()))
	if err != nil {
		h.logger.Error("process payment ipn failed", zap.Error(err))
		c.JSON(http.StatusOK, IPNResponse{RspCode: ipnUnknownError, Message: "Unknown error"})
		return
	}
	var ack IPNResponse
	switch res.Outcome {
	case OutcomeCompleted, OutcomeFailed:
		ack = IPNResponse{RspCode: ipnConfirmed, Message: "Confirm Success"}
	case OutcomeAlreadyProcessed:
		ack = IPNResponse{RspCode: ipnAlreadyProcessed, Message: "Order already confirmed"}
	case OutcomeNotFound:
		ack = IPNResponse{RspCode: ipnNotFound, Message: "Order not found"}
	case OutcomeAmountMismatch:
		ack = IPNResponse{RspCode: ipnInvalidAmount, Message: "Invalid amount"}
	case OutcomeInvalidSignature:
		ack = IPNResponse{RspCode: ipnInvalidSignature, Message: "Invalid signature"}
	default:
		ack = IPNResponse{RspCode: ipnUnknownError, Message: "Unknown error"}
	}
	c.JSON(http.StatusOK, ack)
}

// GetByID handles GET /payments/:id. Students see only their own payments.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid payment id")
		return
	}
	p, err := h.svc.GetByID(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err, "failed to load payment")
		return
	}
	h.respondOwned(c, p)
}

// GetByTransactionID handles GET /payments/transaction/:txnId.
func (h *Handler) GetByTransactionID(c *gin.Context) {
	p, err := h.svc.GetByTransactionID(c.Request.Context(), c.Param("txnId"))
	if err != nil {
		h.writeError(c, err, "failed to load payment")
		return
	}
	h.respondOwned(c, p)
}

func (h *Handler) respondOwned(c *gin.Context, p *models.Payment) {
	if !canView(c, p) {
		// Indistinguishable from a missing payment.
		response.NotFound(c, ErrNotFound.Error())
		return
	}
	response.OK(c, p)
}

func canView(c *gin.Context, p *models.Payment) bool {
	if middleware.HasRole(c, models.RoleAdmin) {
		return true
	}
	uid, ok := middleware.UserID(c)
	return ok && uid == p.StudentID
}

// ListMine handles GET /payments/me?page=&page_size=.
func (h *Handler) ListMine(c *gin.Context) {
	studentID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	page, size := response.Pagination(c)
	list, total, err := h.svc.ListByStudent(c.Request.Context(), studentID, size, (page-1)*size)
	if err != nil {
		h.logger.Error("list payments failed", zap.Error(err))
		response.Internal(c, "failed to list payments")
		return
	}
	response.Paged(c, list, page, size, total)
}

// ListPending handles GET /payments/pending (admin).
func (h *Handler) ListPending(c *gin.Context) {
	page, size := response.Pagination(c)
	list, total, err := h.svc.ListPending(c.Request.Context(), size, (page-1)*size)
	if err != nil {
		h.logger.Error("list pending payments failed", zap.Error(err))
		response.Internal(c, "failed to list payments")
		return
	}
	response.Paged(c, list, page, size, total)
}

// QueryStatus handles GET /payments/transaction/:txnId/status. It reports what the
// gateway says and leaves the stored payment untouched.
func (h *Handler) QueryStatus(c *gin.Context) {
	txnID := c.Param("txnId")
	p, err := h.svc.GetByTransactionID(c.Request.Context(), txnID)
	if err != nil {
		h.writeError(c, err, "failed to load payment")
		return
	}
	if !canView(c, p) {
		response.NotFound(c, ErrNotFound.Error())
		return
	}
	res, err := h.svc.QueryStatus(c.Request.Context(), txnID, c.ClientIP())
	if err != nil {
		h.writeError(c, err, "failed to query payment status")
		return
	}
	response.OK(c, res)
}

func (h *Handler) writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, vouchers.ErrInvalidAmount):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrNotPurchasable), errors.Is(err, vouchers.ErrInvalidCode), errors.Is(err, vouchers.ErrMinimumPurchase),
		errors.Is(err, vouchers.ErrUsageLimitReached), errors.Is(err, vouchers.ErrPerUserLimitReached), errors.Is(err, vouchers.ErrNotApplicable):
		response.UnprocessableEntity(c, err.Error())
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, gateway.ErrStatusUnknown):
		h.logger.Warn("gateway status unknown", zap.Error(err))
		response.ServiceUnavailable(c, "payment status unknown, try again later")
	case errors.Is(err, gateway.ErrInvalidSignature):
		h.logger.Error("gateway response signature mismatch", zap.Error(err))
		c.JSON(http.StatusBadGateway, response.Body{Success: false, Error: "gateway response could not be verified"})
	default:
		h.logger.Error(fallback, zap.Error(err))
		response.Internal(c, fallback)
	}
}
