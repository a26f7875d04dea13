package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// WrapWithAuth guards /admin routes with static bearer tokens. With no
// tokens configured the admin surface is closed entirely; public deposit
// routes pass through untouched.
func WrapWithAuth(next http.Handler, tokens []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/admin/") {
			next.ServeHTTP(w, r)
			return
		}

		if len(tokens) == 0 {
			writeError(w, http.StatusForbidden, errors.New("admin API is not enabled"))
			return
		}

		supplied := bearerToken(r)
		if supplied == "" {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		for _, token := range tokens {
			if subtle.ConstantTimeCompare([]byte(supplied), []byte(token)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}
		writeError(w, http.StatusUnauthorized, errors.New("invalid bearer token"))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
