package actor

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/stewardship/internal/platform/httpx"
)

// Resolver resolves bearer tokens into actors.
type Resolver interface {
	Resolve(ctx context.Context, token string) (Actor, error)
}

// Middleware authenticates requests against the session store.
type Middleware struct {
	Sessions Resolver
	Logger   *slog.Logger
}

// Authenticate rejects requests without a live session and stores the
// resolved actor in the request context.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" || m.Sessions == nil {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing bearer token")
			return
		}
		a, err := m.Sessions.Resolve(r.Context(), token)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "session expired")
				return
			}
			if m.Logger != nil {
				m.Logger.Error("resolve session", slog.Any("error", err))
			}
			w.Header().Set("Retry-After", "1")
			httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "")
			return
		}
		if !a.Valid() {
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "actor context missing")
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithActor(r.Context(), a)))
	})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
