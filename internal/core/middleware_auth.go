package core

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"inzikt/internal/types"
)

// authPublicPaths bypass AuthMiddleware. The cron trigger authenticates with
// its own shared secret inside the handler.
var authPublicPaths = map[string]bool{
	"/health":   true,
	"/metrics":  true,
	"/api/cron": true,
}

// queryTokenSuffix marks routes where browsers, which cannot set headers on
// a WebSocket handshake, may send the token as ?access_token=.
const queryTokenSuffix = "/ws"

// AuthMiddleware resolves the bearer token to an Actor and stores it in the
// request context. Failures are 401 with auth_token_missing,
// auth_token_invalid or auth_token_expired.
//
// If no Authenticator is configured the middleware passes through.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Authenticator == nil || r.Method == http.MethodOptions || authPublicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		token := tokenFromRequest(r)
		if token == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Bearer token is required")
			return
		}

		actor, err := s.Authenticator.ResolveToken(r.Context(), token)
		if err != nil {
			s.handleAuthError(w, r, err)
			return
		}
		if actor == nil {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid authentication token")
			return
		}

		next.ServeHTTP(w, r.WithContext(types.WithActor(r.Context(), *actor)))
	})
}

// tokenFromRequest prefers the Authorization header and falls back to the
// access_token query parameter on WebSocket routes.
func tokenFromRequest(r *http.Request) string {
	if token := ExtractBearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	if strings.HasSuffix(r.URL.Path, queryTokenSuffix) {
		return strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	return ""
}

// ExtractBearerToken parses "Bearer <token>" with a case-insensitive scheme
// per RFC 7235. Returns empty string if the format is invalid. The cron
// handler uses it to read the shared secret.
func ExtractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}

func (s *Server) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case types.ErrCodeAuthTokenExpired:
			s.Logger.Warn("authentication failed: token expired",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			s.writeAuthError(w, r, types.ErrCodeAuthTokenExpired, "Authentication token has expired")
			return
		case types.ErrCodeAuthTokenInvalid:
			s.Logger.Warn("authentication failed: token invalid",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid authentication token")
			return
		}
	}

	s.Logger.Error("authentication failed: unexpected error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Authentication failed")
}

func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	JSON(w, r, http.StatusUnauthorized, ErrorResponse{
		Error:     message,
		Code:      string(code),
		RequestID: types.GetRequestID(r.Context()),
	})
}

// RequireAdmin rejects actors that are neither admins nor the system. A
// missing actor is a 401.
func (s *Server) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := types.GetActor(r.Context())
		if !ok {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Authentication required")
			return
		}
		if !actor.IsAdmin() {
			JSON(w, r, http.StatusForbidden, ErrorResponse{
				Error:     "Insufficient role for this operation",
				Code:      string(types.ErrCodePermissionRole),
				RequestID: types.GetRequestID(r.Context()),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
