package jwtverify

import (
	"context"
	"net/http"
	"strings"

	commonhttp "github.com/spendlog/backend/internal/common/http"
	"github.com/spendlog/backend/internal/common/logger"
)

type Claims struct {
	Subject string
	Role    string
}

// VerifyFunc checks an access token and returns its claims. The token codec
// provides the implementation so signature, method and expiry rules live in
// one place.
type VerifyFunc func(tokenString string) (Claims, error)

type contextKey string

const claimsKey contextKey = "jwt_claims"

func Middleware(verify VerifyFunc, log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("Authorization")
			if raw == "" || !strings.HasPrefix(raw, "Bearer ") {
				log.Warnf("jwt auth failed path=%s: missing or invalid authorization header", r.URL.Path)
				commonhttp.WriteErrorEnvelope(w, http.StatusUnauthorized, commonhttp.CodeMissingAuthorization, "missing or invalid authorization", nil, "")
				return
			}

			tokenString := strings.TrimPrefix(raw, "Bearer ")
			claims, err := verify(tokenString)
			if err != nil {
				log.Warnf("jwt auth failed path=%s: %v", r.URL.Path, err)
				commonhttp.WriteErrorEnvelope(w, http.StatusUnauthorized, commonhttp.CodeInvalidToken, "invalid token", nil, "")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func FromContext(ctx context.Context) (Claims, bool) {
	val := ctx.Value(claimsKey)
	claims, ok := val.(Claims)
	return claims, ok
}
