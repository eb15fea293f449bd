// Package gateway talks to the VNPay-style redirect payment gateway: it signs
// outgoing redirect and query requests and verifies everything coming back.
package gateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

const (
	// ParamSecureHash carries the HMAC tag. It is never part of the signed data.
	ParamSecureHash = "vnp_SecureHash"
	// ParamSecureHashType is echoed by the gateway on callbacks and is not signed either.
	ParamSecureHashType = "vnp_SecureHashType"
)

// Signer computes and checks HMAC-SHA512 tags over parameter maps.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer keyed with the merchant hash secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Canonicalize renders params as the byte string the gateway signs:
// empty values and hash fields dropped, keys sorted, values form-url-encoded,
// joined as key=value pairs with '&'.
func Canonicalize(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" || k == ParamSecureHash || k == ParamSecureHashType {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}

// Sign returns the lowercase hex HMAC-SHA512 of the canonical form of params.
func (s *Signer) Sign(params map[string]string) string {
	mac := hmac.New(sha512.New, s.secret)
	mac.Write([]byte(Canonicalize(params)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the tag over params and compares it to tag in constant time.
// Hex case in tag is ignored.
func (s *Signer) Verify(params map[string]string, tag string) bool {
	if tag == "" {
		return false
	}
	expected := s.Sign(params)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(tag)))
}

// VerifyParams checks the tag carried inside params itself.
func (s *Signer) VerifyParams(params map[string]string) bool {
	return s.Verify(params, params[ParamSecureHash])
}
