// Package crypto signs and verifies the payloads exchanged with external
// executors.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Header names carried by signed requests.
const (
	HeaderTimestamp = "X-Dexarb-Timestamp"
	HeaderSignature = "X-Dexarb-Signature"
)

var (
	ErrMissingSignature = errors.New("missing signature")
	ErrBadSignature     = errors.New("signature mismatch")
	ErrExpiredSignature = errors.New("signature expired")
)

// HMACAuth signs requests with HMAC-SHA256(secret, timestamp+method+path+body)
// encoded as base64.
type HMACAuth struct {
	Secret string
	// MaxSkew bounds how far a verified timestamp may drift from now; zero
	// means five minutes.
	MaxSkew time.Duration
	Now     func() time.Time
}

func (h *HMACAuth) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// Headers returns the signature headers for a request.
func (h *HMACAuth) Headers(method, path string, body []byte) map[string]string {
	return h.HeadersAt(method, path, body, h.now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp.
func (h *HMACAuth) HeadersAt(method, path string, body []byte, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderTimestamp: ts,
		HeaderSignature: hmacSHA256Base64([]byte(h.Secret), ts+method+path+string(body)),
	}
}

// Verify checks a signature produced by Headers.
func (h *HMACAuth) Verify(method, path string, body []byte, ts, sig string) error {
	if ts == "" || sig == "" {
		return ErrMissingSignature
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("crypto: timestamp %q: %w", ts, ErrBadSignature)
	}
	skew := h.MaxSkew
	if skew <= 0 {
		skew = 5 * time.Minute
	}
	if d := h.now().Sub(time.Unix(unix, 0)); d > skew || d < -skew {
		return ErrExpiredSignature
	}
	want := hmacSHA256Base64([]byte(h.Secret), ts+method+path+string(body))
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrBadSignature
	}
	return nil
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	if len(h.Secret) <= 4 {
		return "HMACAuth{secret=****}"
	}
	return fmt.Sprintf("HMACAuth{secret=%s****}", h.Secret[:4])
}

func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
