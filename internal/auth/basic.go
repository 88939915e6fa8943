package auth

import (
	"fmt"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

type basicUser struct {
	hash []byte
	role Role
}

// BasicAuthenticator authenticates requests using HTTP Basic authentication
// with bcrypt-hashed passwords.
type BasicAuthenticator struct {
	users map[string]basicUser
}

// NewBasicAuthenticator creates a Basic authenticator from a config string
// in the format "user1:hash1[:role],user2:hash2[:role]".
func NewBasicAuthenticator(usersConfig string) (*BasicAuthenticator, error) {
	creds, err := parseCredentials("basic auth", usersConfig)
	if err != nil {
		return nil, err
	}

	users := make(map[string]basicUser, len(creds))
	for _, c := range creds {
		if _, err := bcrypt.Cost([]byte(c.secret)); err != nil {
			return nil, fmt.Errorf("basic auth: user %q: invalid bcrypt hash: %w", c.id, err)
		}
		users[c.id] = basicUser{hash: []byte(c.secret), role: c.role}
	}

	return &BasicAuthenticator{users: users}, nil
}

// Authenticate verifies the Basic credentials against the stored hash.
func (a *BasicAuthenticator) Authenticate(r *http.Request) (*Principal, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return nil, ErrUnauthenticated
	}

	user, exists := a.users[username]
	if !exists {
		return nil, fmt.Errorf("%w: unknown user", ErrInvalidCredentials)
	}

	if err := bcrypt.CompareHashAndPassword(user.hash, []byte(password)); err != nil {
		return nil, fmt.Errorf("%w: wrong password", ErrInvalidCredentials)
	}

	return &Principal{
		Method:  MethodBasic,
		Subject: username,
		Role:    user.role,
	}, nil
}

// Method returns the authentication method type.
func (a *BasicAuthenticator) Method() Method {
	return MethodBasic
}
