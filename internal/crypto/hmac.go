package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// HMACAuth holds the credentials for HMAC-authenticated requests against the
// brokerage gateway.
type HMACAuth struct {
	Key     string // API key
	Secret  string // API secret, base64-encoded
	Account string // brokerage account identifier
}

// Headers returns the HTTP headers for a signed gateway request. The
// signature is HMAC-SHA256(secret, timestamp+method+path+body) encoded as
// base64; the secret is base64-decoded before use as the HMAC key.
//
// Returned header keys:
//   - CB-ACCESS-KEY
//   - CB-ACCESS-ACCOUNT
//   - CB-ACCESS-TIMESTAMP
//   - CB-ACCESS-SIGN
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp
// (useful for deterministic testing).
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)

	secretBytes, err := base64.StdEncoding.DecodeString(h.Secret)
	if err != nil {
		// If decoding fails, fall back to raw bytes so the caller gets an
		// obviously-wrong signature rather than a panic.
		secretBytes = []byte(h.Secret)
	}

	message := ts + method + path + body
	sig := hmacSHA256Base64(secretBytes, message)

	return map[string]string{
		"CB-ACCESS-KEY":       h.Key,
		"CB-ACCESS-ACCOUNT":   h.Account,
		"CB-ACCESS-TIMESTAMP": ts,
		"CB-ACCESS-SIGN":      sig,
	}
}

// Verify checks a signature produced by HeadersAt against the same message
// components. It uses constant-time comparison.
func (h *HMACAuth) Verify(method, path, body, timestamp, signature string) bool {
	secretBytes, err := base64.StdEncoding.DecodeString(h.Secret)
	if err != nil {
		secretBytes = []byte(h.Secret)
	}
	expected := hmacSHA256Base64(secretBytes, timestamp+method+path+body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
