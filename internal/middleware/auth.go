package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"edgecloud/internal/transport"
)

// TokenAuth requires the given token on every request except the detection
// endpoint, which carries its own client identity. The token is read from an
// "Authorization: Bearer" header or, for browsers opening a websocket, from
// the token query parameter. An empty token disables the check.
func TokenAuth(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == transport.DetectPath {
			next.ServeHTTP(w, r)
			return
		}

		presented := r.URL.Query().Get("token")
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			presented = strings.TrimPrefix(auth, "Bearer ")
		}

		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
