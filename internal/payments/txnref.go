package payments

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	txnRefTimeLayout = "060102150405"
	txnRefRandDigits = 8
	maxOrderInfoLen  = 255
)

var txnRefRandMax = big.NewInt(100_000_000)

// NewTransactionID returns a time-prefixed reference with a random suffix,
// e.g. 261016093015 + 8 digits. Uniqueness is enforced by the store.
func NewTransactionID(now time.Time) (string, error) {
	n, err := rand.Int(rand.Reader, txnRefRandMax)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%0*d", now.UTC().Format(txnRefTimeLayout), txnRefRandDigits, n.Int64()), nil
}

// OrderInfo builds the human-readable order description sent to the gateway.
// It is display text only; the purchased item is stored as typed ids.
func OrderInfo(title, txnRef string) string {
	suffix := " [" + txnRef + "]"
	info := "Payment for " + sanitize(title)
	if room := maxOrderInfoLen - len(suffix); len(info) > room {
		info = strings.TrimSpace(info[:room])
	}
	return info + suffix
}

// foldDiacritics covers Vietnamese letters that do not decompose under NFD.
var foldDiacritics = strings.NewReplacer("đ", "d", "Đ", "D")

// sanitize drops characters gateways commonly reject in order descriptions.
func sanitize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, foldDiacritics.Replace(s)); err == nil {
		s = folded
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case unicode.IsSpace(r), r == '-', r == '.', r == ',':
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
