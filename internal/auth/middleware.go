package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Authenticator validates credentials and returns a user.
type Authenticator interface {
	Authenticate(r *http.Request) (*User, error)
}

// AuthError represents an authentication error.
type AuthError struct {
	StatusCode int
	ErrorType  string
	ErrorCode  string
	Message    string
}

func (e *AuthError) Error() string {
	return e.Message
}

var (
	ErrMissingCredentials = &AuthError{
		StatusCode: http.StatusUnauthorized,
		ErrorType:  "unauthorized",
		ErrorCode:  "MISSING_CREDENTIALS",
		Message:    "Missing authentication credentials",
	}
	ErrInvalidCredentials = &AuthError{
		StatusCode: http.StatusUnauthorized,
		ErrorType:  "unauthorized",
		ErrorCode:  "INVALID_CREDENTIALS",
		Message:    "Invalid authentication credentials",
	}
)

// Middleware provides HTTP middleware for authentication.
type Middleware struct {
	config        *Config
	authenticator Authenticator
}

// NewMiddleware creates a new authentication middleware. A nil authenticator
// is derived from config.
func NewMiddleware(config *Config, authenticator Authenticator) *Middleware {
	if config == nil {
		config = DefaultConfig()
	}
	if authenticator == nil && config.Mode == AuthModeBasic {
		authenticator = NewBasicAuthenticator(config)
	}
	return &Middleware{
		config:        config,
		authenticator: authenticator,
	}
}

// Enabled reports whether requests are authenticated.
func (m *Middleware) Enabled() bool {
	return m.config.Mode != AuthModeNone
}

// Handler wraps an http.Handler with authentication.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, err := m.authenticate(r)
		if err != nil {
			m.writeError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Gin returns the middleware as a gin handler.
func (m *Middleware) Gin() gin.HandlerFunc {
	return func(c *gin.Context) {
		r, err := m.authenticate(c.Request)
		if err != nil {
			m.writeError(c.Writer, err)
			c.Abort()
			return
		}
		c.Request = r
		c.Next()
	}
}

func (m *Middleware) authenticate(r *http.Request) (*http.Request, error) {
	if !m.Enabled() {
		return r, nil
	}
	if m.authenticator == nil {
		return nil, &AuthError{
			StatusCode: http.StatusInternalServerError,
			ErrorType:  "configuration_error",
			ErrorCode:  "INVALID_AUTH_MODE",
			Message:    "Authentication is misconfigured",
		}
	}
	user, err := m.authenticator.Authenticate(r)
	if err != nil {
		return nil, err
	}
	return r.WithContext(SetUserInContext(r.Context(), user)), nil
}

func (m *Middleware) writeError(w http.ResponseWriter, err error) {
	authErr, ok := err.(*AuthError)
	if !ok {
		authErr = &AuthError{
			StatusCode: http.StatusInternalServerError,
			ErrorType:  "internal",
			ErrorCode:  "INTERNAL_ERROR",
			Message:    "Internal authentication error",
		}
	}

	if authErr.StatusCode == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="`+m.config.Realm+`"`)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(authErr.StatusCode)
	w.Write([]byte(authErr.Message))
}
