package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Wire constants of the gateway protocol.
const (
	CommandPay   = "pay"
	CommandQuery = "querydr"

	ResponseCodeSuccess = "00"

	// DateLayout is yyyyMMddHHmmss.
	DateLayout = "20060102150405"

	// AmountScale is the factor between stored amounts and the integer wire amount.
	AmountScale = 100
)

var (
	// ErrStatusUnknown means the gateway could not be reached in time. It is not a failure.
	ErrStatusUnknown = errors.New("gateway status unknown")
	// ErrInvalidSignature means a gateway message failed HMAC verification.
	ErrInvalidSignature = errors.New("invalid gateway signature")
)

// Config holds merchant credentials and endpoints.
type Config struct {
	TmnCode       string
	HashSecret    string
	PayURL        string
	QueryURL      string
	ReturnURL     string
	Version       string
	Locale        string
	CurrCode      string
	OrderType     string
	TimeZone      string
	ExpireMinutes int
	QueryTimeout  time.Duration
}

// PaymentParams describes one redirect to the gateway.
type PaymentParams struct {
	TransactionID string
	Amount        decimal.Decimal
	OrderInfo     string
	ClientIP      string
	CreatedAt     time.Time
}

// QueryParams describes one out-of-band status query.
type QueryParams struct {
	TransactionID   string
	OrderInfo       string
	TransactionDate time.Time
	ClientIP        string
}

// QueryResult is the gateway's answer to a status query. Raw keeps every field returned.
type QueryResult struct {
	ResponseCode      string            `json:"response_code"`
	Message           string            `json:"message"`
	TransactionID     string            `json:"transaction_id"`
	TransactionNo     string            `json:"transaction_no,omitempty"`
	TransactionStatus string            `json:"transaction_status"`
	Amount            decimal.Decimal   `json:"amount"`
	PayDate           string            `json:"pay_date,omitempty"`
	Raw               map[string]string `json:"raw"`
}

// Paid reports whether the gateway considers the transaction settled.
func (r *QueryResult) Paid() bool {
	return r.ResponseCode == ResponseCodeSuccess && r.TransactionStatus == ResponseCodeSuccess
}

// Client builds signed redirect URLs and queries transaction status.
type Client struct {
	cfg        Config
	signer     *Signer
	loc        *time.Location
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a gateway client. An unknown time zone falls back to UTC+7.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil || cfg.TimeZone == "" {
		loc = time.FixedZone("ICT", 7*60*60)
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		signer:     NewSigner(cfg.HashSecret),
		loc:        loc,
		httpClient: &http.Client{Timeout: cfg.QueryTimeout},
		logger:     logger,
	}
}

// WireAmount converts a stored amount to the gateway's integer representation.
func WireAmount(amount decimal.Decimal) string {
	return amount.Mul(decimal.NewFromInt(AmountScale)).Round(0).StringFixed(0)
}

// PaymentURL returns the fully qualified, signed redirect URL for p.
func (c *Client) PaymentURL(p PaymentParams) (string, error) {
	base, err := url.Parse(c.cfg.PayURL)
	if err != nil {
		return "", fmt.Errorf("parse pay url: %w", err)
	}
	created := p.CreatedAt.In(c.loc)
	params := map[string]string{
		"vnp_Version":    c.cfg.Version,
		"vnp_Command":    CommandPay,
		"vnp_TmnCode":    c.cfg.TmnCode,
		"vnp_Amount":     WireAmount(p.Amount),
		"vnp_CurrCode":   c.cfg.CurrCode,
		"vnp_TxnRef":     p.TransactionID,
		"vnp_OrderInfo":  p.OrderInfo,
		"vnp_OrderType":  c.cfg.OrderType,
		"vnp_Locale":     c.cfg.Locale,
		"vnp_ReturnUrl":  c.cfg.ReturnURL,
		"vnp_IpAddr":     p.ClientIP,
		"vnp_CreateDate": created.Format(DateLayout),
	}
	if c.cfg.ExpireMinutes > 0 {
		params["vnp_ExpireDate"] = created.Add(time.Duration(c.cfg.ExpireMinutes) * time.Minute).Format(DateLayout)
	}

	// The tag must be the last query parameter, so it is appended by hand.
	query := Canonicalize(params)
	base.RawQuery = query + "&" + ParamSecureHash + "=" + c.signer.Sign(params)
	return base.String(), nil
}

// QueryStatus asks the gateway for the authoritative status of a transaction.
// A timeout or transport failure yields ErrStatusUnknown.
func (c *Client) QueryStatus(ctx context.Context, q QueryParams) (*QueryResult, error) {
	now := time.Now().In(c.loc)
	params := map[string]string{
		"vnp_RequestId":       uuid.New().String(),
		"vnp_Version":         c.cfg.Version,
		"vnp_Command":         CommandQuery,
		"vnp_TmnCode":         c.cfg.TmnCode,
		"vnp_TxnRef":          q.TransactionID,
		"vnp_OrderInfo":       q.OrderInfo,
		"vnp_TransactionDate": q.TransactionDate.In(c.loc).Format(DateLayout),
		"vnp_CreateDate":      now.Format(DateLayout),
		"vnp_IpAddr":          q.ClientIP,
	}
	params[ParamSecureHash] = c.signer.Sign(params)

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.QueryURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			c.logger.Warn("gateway query timed out", zap.String("transaction_id", q.TransactionID))
		} else {
			c.logger.Warn("gateway query failed", zap.String("transaction_id", q.TransactionID), zap.Error(err))
		}
		return nil, fmt.Errorf("%w: %v", ErrStatusUnknown, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrStatusUnknown, err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: gateway status %d", ErrStatusUnknown, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("gateway query rejected: %s (status: %d)", string(respBody), resp.StatusCode)
	}

	raw, err := decodeFlat(respBody)
	if err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	if !c.signer.VerifyParams(raw) {
		c.logger.Warn("gateway query response signature mismatch", zap.String("transaction_id", q.TransactionID))
		return nil, ErrInvalidSignature
	}

	result := &QueryResult{
		ResponseCode:      raw["vnp_ResponseCode"],
		Message:           raw["vnp_Message"],
		TransactionID:     raw["vnp_TxnRef"],
		TransactionNo:     raw["vnp_TransactionNo"],
		TransactionStatus: raw["vnp_TransactionStatus"],
		PayDate:           raw["vnp_PayDate"],
		Raw:               raw,
	}
	if v := raw["vnp_Amount"]; v != "" {
		if amt, err := decimal.NewFromString(v); err == nil {
			result.Amount = amt.Div(decimal.NewFromInt(AmountScale))
		}
	}
	return result, nil
}

// decodeFlat decodes a JSON object whose values may be strings or numbers into a string map.
func decodeFlat(body []byte) (map[string]string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		var n json.Number
		if err := json.Unmarshal(v, &n); err == nil {
			out[k] = n.String()
		}
	}
	return out, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
