package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		TmnCode:       "TESTTMN1",
		HashSecret:    "secret",
		PayURL:        "https://pay.example.com/paymentv2/vpcpay.html",
		ReturnURL:     "https://api.example.com/payments/return",
		Version:       "2.1.0",
		Locale:        "vn",
		CurrCode:      "VND",
		OrderType:     "other",
		TimeZone:      "Asia/Ho_Chi_Minh",
		ExpireMinutes: 15,
		QueryTimeout:  time.Second,
	}
}

func TestWireAmount(t *testing.T) {
	assert.Equal(t, "108000000", WireAmount(decimal.NewFromInt(1080000)))
	assert.Equal(t, "500000", WireAmount(decimal.NewFromInt(5000)))
	assert.Equal(t, "1234", WireAmount(decimal.RequireFromString("12.34")))
}

func TestPaymentURL(t *testing.T) {
	c := NewClient(testConfig(), nil)
	created := time.Date(2026, 10, 16, 5, 0, 0, 0, time.UTC)

	raw, err := c.PaymentURL(PaymentParams{
		TransactionID: "26101605000012345678",
		Amount:        decimal.NewFromInt(1080000),
		OrderInfo:     "Payment for GoBasics [26101605000012345678]",
		ClientIP:      "203.0.113.7",
		CreatedAt:     created,
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(raw, "https://pay.example.com/paymentv2/vpcpay.html?"))

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "108000000", q.Get("vnp_Amount"))
	assert.Equal(t, "pay", q.Get("vnp_Command"))
	assert.Equal(t, "TESTTMN1", q.Get("vnp_TmnCode"))
	assert.Equal(t, "20261016120000", q.Get("vnp_CreateDate"))
	assert.Equal(t, "20261016121500", q.Get("vnp_ExpireDate"))

	lastAmp := strings.LastIndex(u.RawQuery, "&")
	assert.True(t, strings.HasPrefix(u.RawQuery[lastAmp+1:], ParamSecureHash+"="), "hash must be the last parameter")
	assert.True(t, c.VerifyCallback(FlattenQuery(q)))
}

func signedJSON(s *Signer, fields map[string]string) []byte {
	fields[ParamSecureHash] = s.Sign(fields)
	body, _ := json.Marshal(fields)
	return body
}

func TestQueryStatus(t *testing.T) {
	cfg := testConfig()
	signer := NewSigner(cfg.HashSecret)
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write(signedJSON(signer, map[string]string{
			"vnp_ResponseCode":      "00",
			"vnp_Message":           "QueryDR Success",
			"vnp_TxnRef":            got["vnp_TxnRef"],
			"vnp_TransactionNo":     "14123456",
			"vnp_TransactionStatus": "00",
			"vnp_Amount":            "108000000",
		}))
	}))
	defer srv.Close()
	cfg.QueryURL = srv.URL
	c := NewClient(cfg, nil)

	res, err := c.QueryStatus(context.Background(), QueryParams{
		TransactionID:   "26101605000012345678",
		OrderInfo:       "Payment for GoBasics [26101605000012345678]",
		TransactionDate: time.Date(2026, 10, 16, 5, 0, 0, 0, time.UTC),
		ClientIP:        "203.0.113.7",
	})
	require.NoError(t, err)
	assert.True(t, res.Paid())
	assert.Equal(t, "14123456", res.TransactionNo)
	assert.True(t, decimal.NewFromInt(1080000).Equal(res.Amount))

	assert.Equal(t, CommandQuery, got["vnp_Command"])
	assert.Equal(t, "20261016120000", got["vnp_TransactionDate"])
	assert.NotEmpty(t, got["vnp_RequestId"])
	assert.True(t, signer.VerifyParams(got), "request must be signed")
}

func TestQueryStatusRejectsUnsignedResponse(t *testing.T) {
	cfg := testConfig()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(signedJSON(NewSigner("wrong"), map[string]string{
			"vnp_ResponseCode":      "00",
			"vnp_TransactionStatus": "00",
		}))
	}))
	defer srv.Close()
	cfg.QueryURL = srv.URL

	_, err := NewClient(cfg, nil).QueryStatus(context.Background(), QueryParams{TransactionID: "x", TransactionDate: time.Now()})
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestQueryStatusTimeoutIsUnknown(t *testing.T) {
	cfg := testConfig()
	cfg.QueryTimeout = 50 * time.Millisecond
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)
	cfg.QueryURL = srv.URL

	_, err := NewClient(cfg, nil).QueryStatus(context.Background(), QueryParams{TransactionID: "x", TransactionDate: time.Now()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStatusUnknown))
}

func TestQueryStatusServerErrorIsUnknown(t *testing.T) {
	cfg := testConfig()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	cfg.QueryURL = srv.URL

	_, err := NewClient(cfg, nil).QueryStatus(context.Background(), QueryParams{TransactionID: "x", TransactionDate: time.Now()})
	assert.ErrorIs(t, err, ErrStatusUnknown)
}

func TestCallbackSucceeded(t *testing.T) {
	assert.True(t, CallbackSucceeded(map[string]string{ParamResponseCode: "00"}))
	assert.True(t, CallbackSucceeded(map[string]string{ParamResponseCode: "00", ParamTransactionStatus: "00"}))
	assert.False(t, CallbackSucceeded(map[string]string{ParamResponseCode: "00", ParamTransactionStatus: "02"}))
	assert.False(t, CallbackSucceeded(map[string]string{ParamResponseCode: "24"}))
	assert.False(t, CallbackSucceeded(map[string]string{}))
}
