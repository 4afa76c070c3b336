package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, AuthModeNone, cfg.Mode)
	assert.NotEmpty(t, cfg.Realm)
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, GetUserFromContext(ctx))

	ctx = SetUserInContext(ctx, &User{Name: "admin"})
	require.NotNil(t, GetUserFromContext(ctx))
	assert.Equal(t, "admin", GetUserFromContext(ctx).Name)
}

func TestBasicAuthenticator(t *testing.T) {
	a := NewBasicAuthenticator(BasicConfig("admin", "s3cret"))

	tests := []struct {
		name    string
		setup   func(r *http.Request)
		wantErr error
	}{
		{"valid", func(r *http.Request) { r.SetBasicAuth("admin", "s3cret") }, nil},
		{"missing", func(r *http.Request) {}, ErrMissingCredentials},
		{"wrong password", func(r *http.Request) { r.SetBasicAuth("admin", "nope") }, ErrInvalidCredentials},
		{"wrong user", func(r *http.Request) { r.SetBasicAuth("root", "s3cret") }, ErrInvalidCredentials},
		{"bearer is not basic", func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") }, ErrMissingCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(r)
			user, err := a.Authenticate(r)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "admin", user.Name)
		})
	}
}

func TestMiddlewareHandler(t *testing.T) {
	mw := NewMiddleware(BasicConfig("admin", "s3cret"), nil)
	var seen *User
	h := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("admin", "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "admin", seen.Name)
}

func TestMiddlewareDisabled(t *testing.T) {
	mw := NewMiddleware(nil, nil)
	assert.False(t, mw.Enabled())

	h := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMiddlewareMisconfigured(t *testing.T) {
	mw := &Middleware{config: BasicConfig("a", "b")}
	rec := httptest.NewRecorder()
	mw.Handler(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMiddlewareGin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewMiddleware(BasicConfig("admin", "s3cret"), nil).Gin())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("admin", "s3cret")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
