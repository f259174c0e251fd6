package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/distributor-api/internal/domain/auth"
)

// Authenticate requires an "Authorization: Bearer <token>" header and stores
// the verified principal in the request context.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeError(w, r, http.StatusUnauthorized, "Authorization header is required")
			return
		}

		scheme, token, ok := strings.Cut(header, " ")
		token = strings.TrimSpace(token)
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			writeError(w, r, http.StatusBadRequest, "Invalid authorization header format")
			return
		}

		p, err := h.verifier.Verify(r.Context(), token)
		if err != nil {
			zctx.From(r.Context()).Debug("Token rejected", zap.Error(err))
			writeError(w, r, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		ctx := auth.WithPrincipal(r.Context(), p)
		ctx = zctx.With(ctx, zap.Int64("user_id", p.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
