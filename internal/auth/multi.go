package auth

import (
	"errors"
	"net/http"
)

// MultiAuthenticator tries authenticators in order. A missing credential
// moves on to the next one; a wrong credential fails at once.
type MultiAuthenticator struct {
	authenticators []Authenticator
}

// NewMultiAuthenticator creates an authenticator that accepts any of the
// given methods.
func NewMultiAuthenticator(authenticators ...Authenticator) *MultiAuthenticator {
	return &MultiAuthenticator{authenticators: authenticators}
}

// Authenticate returns the first successful result.
func (a *MultiAuthenticator) Authenticate(r *http.Request) (*Principal, error) {
	for _, authenticator := range a.authenticators {
		p, err := authenticator.Authenticate(r)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrUnauthenticated) {
			return nil, err
		}
	}

	return nil, ErrUnauthenticated
}

// Method returns the authentication method type.
func (a *MultiAuthenticator) Method() Method {
	return MethodMulti
}
