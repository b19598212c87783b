package http

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/logs"
)

// GetTokenFromHTTPRequest returns the bearer token of the Authorization header.
func GetTokenFromHTTPRequest(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// VerifyAuthTokenHandler rejects the requests that modify data when they do
// not carry token. Reads are always allowed. An empty token disables the
// verification.
func VerifyAuthTokenHandler(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		given := GetTokenFromHTTPRequest(r)
		if subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
			logs.WithTag("method", r.Method).
				WithTag("path", r.URL.Path).
				WithTag("remote_addr", r.RemoteAddr).
				Debug("unauthorized request")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
