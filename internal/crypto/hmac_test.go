package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestHMACAuth_RoundTrip(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	auth := &HMACAuth{Secret: "top-secret", Now: fixedClock(now)}
	body := []byte(`{"opportunity_id":"abc"}`)

	h := auth.Headers("POST", "/execute", body)
	assert.Equal(t, "1760000000", h[HeaderTimestamp])
	require.NoError(t, auth.Verify("POST", "/execute", body, h[HeaderTimestamp], h[HeaderSignature]))

	// Same inputs, same signature.
	again := auth.HeadersAt("POST", "/execute", body, now.Unix())
	assert.Equal(t, h[HeaderSignature], again[HeaderSignature])
}

func TestHMACAuth_Verify(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	auth := &HMACAuth{Secret: "top-secret", Now: fixedClock(now)}
	body := []byte(`{"x":1}`)
	h := auth.HeadersAt("POST", "/execute", body, now.Unix())
	ts, sig := h[HeaderTimestamp], h[HeaderSignature]

	tests := []struct {
		name   string
		method string
		path   string
		body   []byte
		ts     string
		sig    string
		want   error
	}{
		{"missing timestamp", "POST", "/execute", body, "", sig, ErrMissingSignature},
		{"missing signature", "POST", "/execute", body, ts, "", ErrMissingSignature},
		{"tampered body", "POST", "/execute", []byte(`{"x":2}`), ts, sig, ErrBadSignature},
		{"other path", "POST", "/other", body, ts, sig, ErrBadSignature},
		{"other method", "PUT", "/execute", body, ts, sig, ErrBadSignature},
		{"garbage timestamp", "POST", "/execute", body, "soon", sig, ErrBadSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, auth.Verify(tt.method, tt.path, tt.body, tt.ts, tt.sig), tt.want)
		})
	}

	forged := (&HMACAuth{Secret: "guess"}).HeadersAt("POST", "/execute", body, now.Unix())
	assert.ErrorIs(t, auth.Verify("POST", "/execute", body, ts, forged[HeaderSignature]), ErrBadSignature)
}

func TestHMACAuth_Skew(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	auth := &HMACAuth{Secret: "k", MaxSkew: time.Minute, Now: fixedClock(now)}
	body := []byte("{}")

	old := auth.HeadersAt("POST", "/p", body, now.Add(-2*time.Minute).Unix())
	assert.ErrorIs(t, auth.Verify("POST", "/p", body, old[HeaderTimestamp], old[HeaderSignature]), ErrExpiredSignature)

	future := auth.HeadersAt("POST", "/p", body, now.Add(2*time.Minute).Unix())
	assert.ErrorIs(t, auth.Verify("POST", "/p", body, future[HeaderTimestamp], future[HeaderSignature]), ErrExpiredSignature)

	recent := auth.HeadersAt("POST", "/p", body, now.Add(-30*time.Second).Unix())
	assert.NoError(t, auth.Verify("POST", "/p", body, recent[HeaderTimestamp], recent[HeaderSignature]))

	// Zero MaxSkew falls back to five minutes.
	loose := &HMACAuth{Secret: "k", Now: fixedClock(now)}
	fourMin := loose.HeadersAt("POST", "/p", body, now.Add(-4*time.Minute).Unix())
	assert.NoError(t, loose.Verify("POST", "/p", body, fourMin[HeaderTimestamp], fourMin[HeaderSignature]))
}

func TestHMACAuth_String(t *testing.T) {
	assert.Equal(t, "HMACAuth{secret=****}", (&HMACAuth{Secret: "abc"}).String())
	assert.Equal(t, "HMACAuth{secret=abcd****}", (&HMACAuth{Secret: "abcdefgh"}).String())
	assert.NotContains(t, (&HMACAuth{Secret: "abcdefgh"}).String(), "efgh")
}
