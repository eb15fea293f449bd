package gateway

import (
	"net/url"
)

// Callback field names the processor reads. Anything else is kept for audit only.
const (
	ParamTxnRef            = "vnp_TxnRef"
	ParamAmount            = "vnp_Amount"
	ParamResponseCode      = "vnp_ResponseCode"
	ParamTransactionStatus = "vnp_TransactionStatus"
	ParamTransactionNo     = "vnp_TransactionNo"
)

// VerifyCallback checks the tag a callback carries in vnp_SecureHash.
func (c *Client) VerifyCallback(params map[string]string) bool {
	return c.signer.VerifyParams(params)
}

// CallbackSucceeded reports whether a callback signals a settled payment.
// vnp_TransactionStatus is only checked when the gateway sends it.
func CallbackSucceeded(params map[string]string) bool {
	if params[ParamResponseCode] != ResponseCodeSuccess {
		return false
	}
	status, ok := params[ParamTransactionStatus]
	return !ok || status == "" || status == ResponseCodeSuccess
}

// FlattenQuery keeps the first value of each query parameter.
func FlattenQuery(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// EncodeParams renders params as a sorted query string, including the tag, for audit storage.
func EncodeParams(params map[string]string) string {
	values := make(url.Values, len(params))
	for k, v := range params {
		values.Set(k, v)
	}
	return values.Encode()
}
