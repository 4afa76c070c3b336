package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
)

// BasicAuthenticator validates HTTP Basic credentials against a single user.
type BasicAuthenticator struct {
	userHash [sha256.Size]byte
	passHash [sha256.Size]byte
}

// NewBasicAuthenticator creates a new Basic authenticator.
func NewBasicAuthenticator(config *Config) *BasicAuthenticator {
	return &BasicAuthenticator{
		userHash: hashKey(config.Username),
		passHash: hashKey(config.Password),
	}
}

// Authenticate extracts and validates the Basic credential from the request.
func (a *BasicAuthenticator) Authenticate(r *http.Request) (*User, error) {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return nil, ErrMissingCredentials
	}

	u := hashKey(user)
	p := hashKey(pass)
	userOK := subtle.ConstantTimeCompare(u[:], a.userHash[:])
	passOK := subtle.ConstantTimeCompare(p[:], a.passHash[:])
	if userOK&passOK != 1 {
		return nil, ErrInvalidCredentials
	}

	return &User{Name: user}, nil
}

// Hashing first keeps the comparison constant-time regardless of input length.
func hashKey(key string) [sha256.Size]byte {
	return sha256.Sum256([]byte(key))
}
