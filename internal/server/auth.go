package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"procline/internal/domain"
	"procline/internal/repo"
)

// UserHeader names the acting user. Authentication happens in front of this
// adapter; the header is trusted as given.
const UserHeader = "X-User-ID"

type principalKey struct{}

func withPrincipal(ctx context.Context, u domain.User) context.Context {
	return context.WithValue(ctx, principalKey{}, u)
}

func principalFromContext(ctx context.Context) (domain.User, bool) {
	u, ok := ctx.Value(principalKey{}).(domain.User)
	return u, ok
}

func actorIDFromContext(ctx context.Context) (string, huma.StatusError) {
	if u, ok := principalFromContext(ctx); ok && u.ID != "" {
		return u.ID, nil
	}
	return "", newAPIError(http.StatusUnauthorized, "unauthorized", UserHeader+" header required", nil)
}

// newIdentityMiddleware resolves the X-User-ID header against the directory for
// every route under basePath except health.
func newIdentityMiddleware(basePath string, r repo.Repo) func(http.Handler) http.Handler {
	healthPath := path.Join(basePath, "health")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if req.URL.Path == healthPath || strings.HasSuffix(req.URL.Path, "/openapi.json") {
				next.ServeHTTP(w, req)
				return
			}
			userID := strings.TrimSpace(req.Header.Get(UserHeader))
			if userID == "" {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", UserHeader+" header required", nil))
				return
			}
			u, err := r.Users.Get(req.Context(), userID)
			if err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "unknown_user", "unknown user", map[string]any{"user_id": userID}))
					return
				}
				respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil))
				return
			}
			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), u)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}
