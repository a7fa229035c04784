package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/MrEthical07/trustcore"
)

// AccessVerifier is satisfied by *trustcore.TokenManager.
type AccessVerifier interface {
	VerifyAccessToken(ctx context.Context, token string) (*trustcore.Claims, error)
}

type claimsContextKey struct{}

// ClaimsFromContext returns the claims stored by RequireAccess.
func ClaimsFromContext(ctx context.Context) (*trustcore.Claims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(*trustcore.Claims)
	return c, ok
}

// RequireAccess rejects requests without a valid bearer access credential.
//
// Rejections are 401 {"error":"Invalid session"}. An expired credential also
// gets X-Token-Expired: true so clients know to renew. A store outage is 503.
func RequireAccess(verifier AccessVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				writeError(w, http.StatusUnauthorized, trustcore.MessageInvalidSession)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, trustcore.MessageInvalidSession)
				return
			}

			claims, err := verifier.VerifyAccessToken(r.Context(), token)
			if err != nil {
				if errors.Is(err, trustcore.ErrStoreUnavailable) {
					writeError(w, http.StatusServiceUnavailable, trustcore.PublicMessage(err))
					return
				}
				if trustcore.ShouldRefresh(err) {
					w.Header().Set("X-Token-Expired", "true")
				}
				writeError(w, http.StatusUnauthorized, trustcore.MessageInvalidSession)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) <= len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}
	token := strings.TrimSpace(value[len(bearer):])
	return token, token != ""
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
