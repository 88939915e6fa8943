// Package auth authenticates callers of the inventory write API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Method represents the authentication method used.
type Method string

const (
	// MethodNone indicates no authentication.
	MethodNone Method = "none"
	// MethodBasic indicates HTTP Basic authentication.
	MethodBasic Method = "basic"
	// MethodAPIKey indicates API key authentication.
	MethodAPIKey Method = "apikey"
	// MethodMulti indicates multi-method authentication.
	MethodMulti Method = "multi"
)

// Role decides which writes a principal may make.
type Role string

const (
	// RoleClerk may sell, order and purchase stock.
	RoleClerk Role = "clerk"
	// RoleManager may additionally create, edit and delete items.
	RoleManager Role = "manager"
)

// Principal is an authenticated caller.
type Principal struct {
	Method  Method
	Subject string
	Role    Role
}

// CanAdjustStock reports whether the principal may change quantities.
func (p *Principal) CanAdjustStock() bool {
	return p.Role == RoleClerk || p.Role == RoleManager
}

// CanEditCatalog reports whether the principal may create, edit or delete
// items.
func (p *Principal) CanEditCatalog() bool {
	return p.Role == RoleManager
}

// Authenticator validates a request and returns the caller.
type Authenticator interface {
	Authenticate(r *http.Request) (*Principal, error)
	Method() Method
}

// Sentinel errors for authentication failures.
var (
	ErrUnauthenticated    = errors.New("unauthenticated: no credentials provided")
	ErrInvalidAPIKey      = errors.New("invalid API key")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrForbidden          = errors.New("forbidden")
)

type contextKey string

const principalKey contextKey = "principal"

// FromContext retrieves the Principal from the context.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok
}

// WithPrincipal stores the Principal in the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// ParseRole converts a configured role name. An empty name means manager.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case "", RoleManager:
		return RoleManager, nil
	case RoleClerk:
		return RoleClerk, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// credential is one parsed "id:secret[:role]" entry.
type credential struct {
	id     string
	secret string
	role   Role
}

// parseCredentials reads a comma separated list of "id:secret[:role]"
// entries. kind names the list in error messages.
func parseCredentials(kind, config string) ([]credential, error) {
	trimmed := strings.TrimSpace(config)
	if trimmed == "" {
		return nil, fmt.Errorf("%s: config must not be empty", kind)
	}

	var creds []credential
	for _, entry := range strings.Split(trimmed, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("%s: invalid entry format, expected id:secret[:role]", kind)
		}

		id := strings.TrimSpace(parts[0])
		secret := strings.TrimSpace(parts[1])
		if id == "" || secret == "" {
			return nil, fmt.Errorf("%s: id and secret must not be empty", kind)
		}

		var roleName string
		if len(parts) == 3 {
			roleName = parts[2]
		}
		role, err := ParseRole(roleName)
		if err != nil {
			return nil, fmt.Errorf("%s: entry %q: %w", kind, id, err)
		}

		creds = append(creds, credential{id: id, secret: secret, role: role})
	}

	if len(creds) == 0 {
		return nil, fmt.Errorf("%s: no valid entries found", kind)
	}

	return creds, nil
}
