package auth

import (
	"crypto/subtle"
	"net/http"
)

// APIKeyHeader is the HTTP header name for API key authentication.
const APIKeyHeader = "X-API-Key"

type apiKey struct {
	value []byte
	name  string
	role  Role
}

// APIKeyAuthenticator authenticates requests by the X-API-Key header.
type APIKeyAuthenticator struct {
	keys []apiKey
}

// NewAPIKeyAuthenticator creates an API key authenticator from a config
// string in the format "key1:name1[:role],key2:name2[:role]".
func NewAPIKeyAuthenticator(keysConfig string) (*APIKeyAuthenticator, error) {
	creds, err := parseCredentials("apikey auth", keysConfig)
	if err != nil {
		return nil, err
	}

	keys := make([]apiKey, 0, len(creds))
	for _, c := range creds {
		keys = append(keys, apiKey{value: []byte(c.id), name: c.secret, role: c.role})
	}

	return &APIKeyAuthenticator{keys: keys}, nil
}

// Authenticate compares the presented key with every configured key in
// constant time.
func (a *APIKeyAuthenticator) Authenticate(r *http.Request) (*Principal, error) {
	presented := r.Header.Get(APIKeyHeader)
	if presented == "" {
		return nil, ErrUnauthenticated
	}

	var match *apiKey
	for i := range a.keys {
		if subtle.ConstantTimeCompare([]byte(presented), a.keys[i].value) == 1 {
			match = &a.keys[i]
		}
	}
	if match == nil {
		return nil, ErrInvalidAPIKey
	}

	return &Principal{
		Method:  MethodAPIKey,
		Subject: match.name,
		Role:    match.role,
	}, nil
}

// Method returns the authentication method type.
func (a *APIKeyAuthenticator) Method() Method {
	return MethodAPIKey
}
