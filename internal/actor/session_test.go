package actor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionStore(client, time.Hour), mr
}

func TestSessionIssueResolveRevoke(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	pastor := Actor{ID: 11, Role: RolePastor, BranchID: Branch(2), Email: "pastor@example.org"}

	token, err := store.Issue(ctx, pastor)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.True(t, mr.Exists("stewardship:session:"+token))
	require.Equal(t, time.Hour, mr.TTL("stewardship:session:"+token))

	got, err := store.Resolve(ctx, token)
	require.NoError(t, err)
	require.Equal(t, pastor, got)

	require.NoError(t, store.Revoke(ctx, token))
	_, err = store.Resolve(ctx, token)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionExpiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	token, err := store.Issue(ctx, Actor{ID: 1, Role: RoleAdmin})
	require.NoError(t, err)
	mr.FastForward(2 * time.Hour)

	_, err = store.Resolve(ctx, token)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionRejectsInvalidActor(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Issue(context.Background(), Actor{ID: 1, Role: "deacon"})
	require.Error(t, err)

	_, err = store.Resolve(context.Background(), "")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestParseRoles(t *testing.T) {
	roles, err := ParseRoles([]string{" Admin", "bishop", ""})
	require.NoError(t, err)
	require.Equal(t, []Role{RoleAdmin, RoleBishop}, roles)

	_, err = ParseRoles([]string{"admin", "deacon"})
	require.ErrorIs(t, err, ErrUnknownRole)
}

func TestActorValid(t *testing.T) {
	require.True(t, Actor{ID: 3, Role: RoleFinance}.Valid())
	require.False(t, Actor{ID: 0, Role: RoleFinance}.Valid())
	require.False(t, Actor{ID: 3, Role: "treasurer"}.Valid())
	require.True(t, Actor{ID: 3, Role: RoleFinance, BranchID: Branch(4)}.InBranch(4))
	require.False(t, Actor{ID: 3, Role: RoleFinance}.InBranch(4))
}

type staticResolver struct {
	actor Actor
	err   error
}

func (s staticResolver) Resolve(ctx context.Context, token string) (Actor, error) {
	return s.actor, s.err
}

func TestAuthenticate(t *testing.T) {
	var seen Actor
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	serve := func(m Middleware, header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/transactions", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr := httptest.NewRecorder()
		m.Authenticate(next).ServeHTTP(rr, req)
		return rr
	}

	bishop := Actor{ID: 10, Role: RoleBishop, BranchID: Branch(1)}
	ok := Middleware{Sessions: staticResolver{actor: bishop}}

	rr := serve(ok, "Bearer token-1")
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, bishop, seen)

	require.Equal(t, http.StatusUnauthorized, serve(ok, "").Code)
	require.Equal(t, http.StatusUnauthorized, serve(ok, "Basic abc").Code)
	require.Equal(t, http.StatusUnauthorized, serve(Middleware{Sessions: staticResolver{err: ErrSessionNotFound}}, "Bearer x").Code)

	rr = serve(Middleware{Sessions: staticResolver{err: context.DeadlineExceeded}}, "Bearer x")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Equal(t, "1", rr.Header().Get("Retry-After"))

	require.Equal(t, http.StatusForbidden, serve(Middleware{Sessions: staticResolver{actor: Actor{ID: 5, Role: "guest"}}}, "Bearer x").Code)
}

func TestAuthenticateAgainstRedis(t *testing.T) {
	store, _ := newTestStore(t)
	token, err := store.Issue(context.Background(), Actor{ID: 1, Role: RoleSuperAdmin})
	require.NoError(t, err)

	handler := Middleware{Sessions: store}.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a, ok := FromContext(r.Context())
		require.True(t, ok)
		require.Equal(t, RoleSuperAdmin, a.Role)
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
}
