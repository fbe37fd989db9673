package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTokenService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Config{Mode: ModeToken, Tokens: []Token{
		{Name: "web", Secret: "s-web", Users: []string{"u1", "u2"}},
		{Name: "ops", Secret: "s-ops", Users: []string{AnyUser}},
		{Name: "old", Secret: "s-old", Users: []string{"u1"}, Disabled: true},
	}})
	require.NoError(t, err)
	return svc
}

func TestNewServiceValidatesTokens(t *testing.T) {
	_, err := NewService(Config{Mode: ModeToken})
	assert.Error(t, err)
	_, err = NewService(Config{Mode: ModeToken, Tokens: []Token{{Name: "a", Secret: "x"}}})
	assert.Error(t, err)
	_, err = NewService(Config{Mode: ModeToken, Tokens: []Token{
		{Name: "a", Secret: "x", Users: []string{"u"}},
		{Name: "b", Secret: "x", Users: []string{"u"}},
	}})
	assert.Error(t, err)
	_, err = NewService(Config{Mode: "oauth"})
	assert.Error(t, err)

	svc, err := NewService(Config{})
	require.NoError(t, err)
	assert.Equal(t, ModeDisabled, svc.Mode())
}

func TestAuthenticateRequest(t *testing.T) {
	svc := newTokenService(t)
	ctx := context.Background()

	subject, err := svc.AuthenticateRequest(ctx, "Bearer s-web")
	require.NoError(t, err)
	assert.Equal(t, "web", subject.Name)
	assert.True(t, subject.AllowsUser("u2"))
	assert.False(t, subject.AllowsUser("u3"))
	assert.ErrorIs(t, subject.Authorize("u3"), ErrPermissionDenied)

	subject, err = svc.AuthenticateRequest(ctx, "bearer s-ops")
	require.NoError(t, err)
	assert.True(t, subject.AllowsUser("anyone"))

	_, err = svc.AuthenticateRequest(ctx, "")
	assert.ErrorIs(t, err, ErrMissingToken)
	_, err = svc.AuthenticateRequest(ctx, "Bearer nope")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = svc.AuthenticateRequest(ctx, "Bearer s-old")
	assert.ErrorIs(t, err, ErrSubjectRevoked)
}

func TestMiddleware(t *testing.T) {
	svc := newTokenService(t)
	var seen *Subject
	handler := svc.Middleware(MiddlewareConfig{Public: map[string]bool{"/healthz": true}})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = SubjectFromContext(r.Context())
			w.WriteHeader(http.StatusNoContent)
		}))

	cases := []struct {
		path   string
		header string
		status int
	}{
		{"/api/v1/messages", "", http.StatusUnauthorized},
		{"/api/v1/messages", "Bearer wrong", http.StatusUnauthorized},
		{"/api/v1/messages", "Bearer s-old", http.StatusForbidden},
		{"/api/v1/messages", "Bearer s-web", http.StatusNoContent},
		{"/healthz", "", http.StatusNoContent},
	}
	for _, tc := range cases {
		seen = nil
		req := httptest.NewRequest(http.MethodPost, tc.path, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, tc.status, rec.Code, "%s %q", tc.path, tc.header)
		if tc.header == "Bearer s-web" {
			require.NotNil(t, seen)
			assert.Equal(t, "web", seen.Name)
		}
	}
}

func TestDisabledMiddlewarePassesThrough(t *testing.T) {
	svc, err := NewService(Config{Mode: ModeDisabled})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	svc.Middleware(MiddlewareConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Nil(t, SubjectFromContext(r.Context()))
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/u1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthorizeContext(t *testing.T) {
	assert.ErrorIs(t, AuthorizeContext(context.Background(), "u1"), ErrInvalidToken)
	assert.Empty(t, SubjectName(context.Background()))

	subject := &Subject{Name: "mobile", Users: []string{"u1"}}
	ctx := WithSubject(context.Background(), subject)
	subject.Users = append(subject.Users, "u2")

	assert.Equal(t, "mobile", SubjectName(ctx))
	assert.NoError(t, AuthorizeContext(ctx, "u1"))
	assert.ErrorIs(t, AuthorizeContext(ctx, "u1", "u2"), ErrPermissionDenied)
}
