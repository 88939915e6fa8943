package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/inventory-tracker/internal/auth"
	"github.com/vyrodovalexey/inventory-tracker/internal/metrics"
)

// stockSuffixes mark the quantity endpoints a clerk may call.
var stockSuffixes = []string{"/sell", "/order", "/purchase"}

// Auth guards the write API. Reads, CORS preflight, probes and WebSocket
// streams stay public. Quantity changes need a clerk or manager; every
// other write needs a manager.
func Auth(authenticator auth.Authenticator, logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isReadOnly(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			principal, err := authenticator.Authenticate(r)
			if err != nil {
				logger.Warn("authentication failed",
					zap.String("path", r.URL.Path),
					zap.String("method", r.Method),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				metrics.AuthFailuresTotal.WithLabelValues("unauthenticated").Inc()
				writeAuthError(w, http.StatusUnauthorized, err)
				return
			}

			if !allowed(principal, r.URL.Path) {
				logger.Warn("write forbidden",
					zap.String("subject", principal.Subject),
					zap.String("role", string(principal.Role)),
					zap.String("path", r.URL.Path),
					zap.String("method", r.Method),
				)
				metrics.AuthFailuresTotal.WithLabelValues("forbidden").Inc()
				writeAuthError(w, http.StatusForbidden, auth.ErrForbidden)
				return
			}

			logger.Debug("authenticated",
				zap.String("subject", principal.Subject),
				zap.String("auth_method", string(principal.Method)),
				zap.String("path", r.URL.Path),
			)

			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
		})
	}
}

func isReadOnly(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

func allowed(p *auth.Principal, path string) bool {
	if isStockPath(path) {
		return p.CanAdjustStock()
	}
	return p.CanEditCatalog()
}

func isStockPath(path string) bool {
	for _, suffix := range stockSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

type authErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeAuthError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusUnauthorized {
		setWWWAuthenticateHeader(w, err)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(authErrorResponse{Code: status, Message: err.Error()})
}

func setWWWAuthenticateHeader(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		w.Header().Set("WWW-Authenticate", `Basic realm="inventory", API-Key`)
	case errors.Is(err, auth.ErrInvalidCredentials):
		w.Header().Set("WWW-Authenticate", `Basic realm="inventory"`)
	case errors.Is(err, auth.ErrInvalidAPIKey):
		w.Header().Set("WWW-Authenticate", "API-Key")
	}
}
