package auth_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vyrodovalexey/inventory-tracker/internal/auth"
)

func TestMultiAuthenticator_Authenticate(t *testing.T) {
	t.Parallel()

	hash := generateBcryptHash(t, "secret")
	basic, err := auth.NewBasicAuthenticator("alice:" + hash)
	if err != nil {
		t.Fatalf("NewBasicAuthenticator() error = %v", err)
	}
	apiKey, err := auth.NewAPIKeyAuthenticator("k-till:till:clerk")
	if err != nil {
		t.Fatalf("NewAPIKeyAuthenticator() error = %v", err)
	}
	multi := auth.NewMultiAuthenticator(apiKey, basic)

	tests := []struct {
		name       string
		setup      func(r *http.Request)
		wantErr    error
		wantMethod auth.Method
	}{
		{
			name:       "api key",
			setup:      func(r *http.Request) { r.Header.Set(auth.APIKeyHeader, "k-till") },
			wantMethod: auth.MethodAPIKey,
		},
		{
			name:       "falls through to basic",
			setup:      func(r *http.Request) { r.SetBasicAuth("alice", "secret") },
			wantMethod: auth.MethodBasic,
		},
		{
			name: "wrong key fails without trying basic",
			setup: func(r *http.Request) {
				r.Header.Set(auth.APIKeyHeader, "bad")
				r.SetBasicAuth("alice", "secret")
			},
			wantErr: auth.ErrInvalidAPIKey,
		},
		{
			name:    "no credentials",
			setup:   func(*http.Request) {},
			wantErr: auth.ErrUnauthenticated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodDelete, "/api/v1/items/1", nil)
			tt.setup(req)

			p, err := multi.Authenticate(req)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Authenticate() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if p.Method != tt.wantMethod {
				t.Errorf("Method = %q, want %q", p.Method, tt.wantMethod)
			}
		})
	}
}

func TestMultiAuthenticator_Empty(t *testing.T) {
	t.Parallel()

	multi := auth.NewMultiAuthenticator()
	_, err := multi.Authenticate(httptest.NewRequest(http.MethodPost, "/", nil))

	if !errors.Is(err, auth.ErrUnauthenticated) {
		t.Errorf("Authenticate() error = %v, want %v", err, auth.ErrUnauthenticated)
	}
	if multi.Method() != auth.MethodMulti {
		t.Errorf("Method() = %q, want %q", multi.Method(), auth.MethodMulti)
	}
}
