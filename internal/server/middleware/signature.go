package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/alanyoungcy/dexarb/internal/crypto"
)

const maxSignedBody = 64 << 10

// Signature rejects requests whose body is not signed with auth. The body is
// buffered and handed on unchanged.
func Signature(auth *crypto.HMACAuth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "unreadable body")
				return
			}
			if len(body) > maxSignedBody {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "body too large")
				return
			}

			err = auth.Verify(r.Method, r.URL.Path, body,
				r.Header.Get(crypto.HeaderTimestamp), r.Header.Get(crypto.HeaderSignature))
			switch {
			case errors.Is(err, crypto.ErrMissingSignature):
				writeJSONError(w, http.StatusUnauthorized, "missing signature")
				return
			case err != nil:
				writeJSONError(w, http.StatusUnauthorized, "invalid signature")
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}
