// Package verifier authenticates payment gateway callbacks.
//
// A callback is trusted only if its signature equals
// hex(HMAC_SHA256(orderID + "|" + paymentID, secret)). No other field of a
// callback is trusted without this check.
package verifier

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Verifier checks a gateway signature for an order/payment pair.
type Verifier interface {
	Verify(orderID, paymentID, signature string) bool
}

// Func adapts a function to Verifier.
type Func func(orderID, paymentID, signature string) bool

// Verify implements Verifier.
func (f Func) Verify(orderID, paymentID, signature string) bool {
	return f(orderID, paymentID, signature)
}

// HMAC verifies HMAC-SHA256 signatures with a server-held secret.
type HMAC struct {
	secret []byte
}

// NewHMAC returns an HMAC verifier. An empty secret rejects every signature.
func NewHMAC(secret string) *HMAC {
	return &HMAC{secret: []byte(secret)}
}

// Sign returns the hex signature for an order/payment pair.
func (h *HMAC) Sign(orderID, paymentID string) string {
	return hex.EncodeToString(h.mac(orderID, paymentID))
}

// Verify reports whether signature is valid for the pair. Comparison is
// constant time.
func (h *HMAC) Verify(orderID, paymentID, signature string) bool {
	if len(h.secret) == 0 || orderID == "" || paymentID == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) != sha256.Size {
		return false
	}
	return hmac.Equal(got, h.mac(orderID, paymentID))
}

func (h *HMAC) mac(orderID, paymentID string) []byte {
	m := hmac.New(sha256.New, h.secret)
	m.Write([]byte(orderID + "|" + paymentID))
	return m.Sum(nil)
}
