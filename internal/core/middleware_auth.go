package core

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"pollkeeper/internal/types"
)

// HousekeepingGate authorizes job triggers. In order:
//
//  1. FEATURE_ENABLE_HOUSEKEEPING=false -> 503 unavailable_feature_disabled
//  2. CRON_SECRET unset                 -> 500 internal_cron_secret_unset
//  3. no bearer token                   -> 401 auth_token_missing
//  4. token does not match the secret   -> 401 auth_token_invalid
//
// A rejected request never reaches a handler, so no repository work is done.
func (s *Server) HousekeepingGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hk := s.Config.Housekeeping

		if !hk.Enabled {
			Error(w, r, types.NewAppError(
				types.ErrCodeUnavailableFeatureDisabled,
				"housekeeping is disabled",
				nil,
			))
			return
		}

		if !hk.CronSecret.IsSet() {
			s.Logger.ErrorContext(r.Context(), "CRON_SECRET is not configured; rejecting housekeeping trigger",
				slog.String("path", r.URL.Path),
			)
			Error(w, r, types.NewAppError(
				types.ErrCodeInternalCronSecretUnset,
				"CRON_SECRET is not configured on the server",
				nil,
			))
			return
		}

		token := extractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Bearer token is required")
			return
		}

		if !VerifyCronSecret(hk.CronSecret.Unmask(), token) {
			s.Logger.WarnContext(r.Context(), "housekeeping trigger rejected: invalid token",
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
			)
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid authentication token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// VerifyCronSecret reports whether token matches secret. A secret with a
// bcrypt prefix ($2a$, $2b$, $2y$) is treated as a hash; anything else is
// compared in constant time.
func VerifyCronSecret(secret, token string) bool {
	if isBcryptHash(secret) {
		return bcrypt.CompareHashAndPassword([]byte(secret), []byte(token)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(token)) == 1
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// extractBearerToken returns the token from "Bearer <token>", matching the
// scheme case-insensitively (RFC 7235), or "" when the header is malformed.
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}

func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	Error(w, r, types.NewAppError(code, message, nil))
}
