// Package auth provides HTTP Basic authentication for the agent webserver.
package auth

import (
	"context"
)

// AuthMode defines the authentication mode.
type AuthMode string

const (
	// AuthModeNone disables authentication.
	AuthModeNone AuthMode = "none"
	// AuthModeBasic enables HTTP Basic authentication.
	AuthModeBasic AuthMode = "basic"
)

// Config holds authentication configuration.
type Config struct {
	// Mode is the authentication mode (none, basic).
	Mode AuthMode `json:"mode"`
	// Username is the expected Basic-Auth user.
	Username string `json:"username,omitempty"`
	// Password is the expected Basic-Auth password.
	Password string `json:"-"`
	// Realm is announced in the WWW-Authenticate challenge.
	Realm string `json:"realm,omitempty"`
}

// DefaultConfig returns a default configuration with auth disabled.
func DefaultConfig() *Config {
	return &Config{
		Mode:  AuthModeNone,
		Realm: "openITCOCKPIT Agent",
	}
}

// BasicConfig returns a configuration requiring the given credential.
func BasicConfig(username, password string) *Config {
	cfg := DefaultConfig()
	cfg.Mode = AuthModeBasic
	cfg.Username = username
	cfg.Password = password
	return cfg
}

// User represents an authenticated user.
type User struct {
	// Name is the Basic-Auth user name.
	Name string
}

// contextKey is an unexported type for context keys to prevent collisions.
type contextKey struct{ name string }

var (
	userContextKey = &contextKey{"user"}
)

// SetUserInContext stores the user in the context.
func SetUserInContext(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// GetUserFromContext retrieves the user from the context.
// Returns nil if no user is set.
func GetUserFromContext(ctx context.Context) *User {
	user, _ := ctx.Value(userContextKey).(*User)
	return user
}
