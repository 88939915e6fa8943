package auth_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/vyrodovalexey/inventory-tracker/internal/auth"
)

func generateBcryptHash(t *testing.T, password string) string {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to generate bcrypt hash: %v", err)
	}

	return string(hash)
}

func TestNewBasicAuthenticator(t *testing.T) {
	t.Parallel()

	hash := generateBcryptHash(t, "secret")

	tests := []struct {
		name    string
		config  string
		wantErr bool
	}{
		{name: "single user", config: "alice:" + hash},
		{name: "user with role", config: "bob:" + hash + ":clerk"},
		{name: "several users with blanks", config: "alice:" + hash + ", ,bob:" + hash + ":manager"},
		{name: "empty config", config: "", wantErr: true},
		{name: "whitespace config", config: "   ", wantErr: true},
		{name: "missing hash", config: "alice", wantErr: true},
		{name: "empty username", config: ":" + hash, wantErr: true},
		{name: "not a bcrypt hash", config: "alice:plaintext", wantErr: true},
		{name: "unknown role", config: "alice:" + hash + ":owner", wantErr: true},
		{name: "only separators", config: ",,", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a, err := auth.NewBasicAuthenticator(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewBasicAuthenticator() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && a == nil {
				t.Fatal("NewBasicAuthenticator() returned nil")
			}
		})
	}
}

func TestBasicAuthenticator_Authenticate(t *testing.T) {
	t.Parallel()

	hash := generateBcryptHash(t, "secret")
	a, err := auth.NewBasicAuthenticator("alice:" + hash + ",bob:" + hash + ":clerk")
	if err != nil {
		t.Fatalf("NewBasicAuthenticator() error = %v", err)
	}

	tests := []struct {
		name     string
		setup    func(r *http.Request)
		wantErr  error
		wantRole auth.Role
	}{
		{
			name:     "manager by default",
			setup:    func(r *http.Request) { r.SetBasicAuth("alice", "secret") },
			wantRole: auth.RoleManager,
		},
		{
			name:     "clerk role",
			setup:    func(r *http.Request) { r.SetBasicAuth("bob", "secret") },
			wantRole: auth.RoleClerk,
		},
		{
			name:    "no credentials",
			setup:   func(*http.Request) {},
			wantErr: auth.ErrUnauthenticated,
		},
		{
			name:    "unknown user",
			setup:   func(r *http.Request) { r.SetBasicAuth("carol", "secret") },
			wantErr: auth.ErrInvalidCredentials,
		},
		{
			name:    "wrong password",
			setup:   func(r *http.Request) { r.SetBasicAuth("alice", "nope") },
			wantErr: auth.ErrInvalidCredentials,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			req := httptest.NewRequest(http.MethodPost, "/api/v1/items/1/sell", nil)
			tt.setup(req)

			// Act
			p, err := a.Authenticate(req)

			// Assert
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Authenticate() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if p.Method != auth.MethodBasic || p.Role != tt.wantRole {
				t.Errorf("Authenticate() = %+v, want basic %s", p, tt.wantRole)
			}
		})
	}
}

func TestBasicAuthenticator_Method(t *testing.T) {
	t.Parallel()

	a, err := auth.NewBasicAuthenticator("alice:" + generateBcryptHash(t, "x"))
	if err != nil {
		t.Fatalf("NewBasicAuthenticator() error = %v", err)
	}
	if a.Method() != auth.MethodBasic {
		t.Errorf("Method() = %q, want %q", a.Method(), auth.MethodBasic)
	}
}
