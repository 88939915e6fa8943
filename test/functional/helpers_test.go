//go:build functional

// Package functional runs the inventory server on a real port and drives it
// over HTTP and WebSocket.
package functional

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/inventory-tracker/internal/auth"
	"github.com/vyrodovalexey/inventory-tracker/internal/config"
	"github.com/vyrodovalexey/inventory-tracker/internal/inventory"
	"github.com/vyrodovalexey/inventory-tracker/internal/model"
	"github.com/vyrodovalexey/inventory-tracker/internal/server"
	"github.com/vyrodovalexey/inventory-tracker/internal/store"
)

const (
	requestTimeout  = 5 * time.Second
	eventualTimeout = 3 * time.Second
	shutdownTimeout = 5 * time.Second
)

// TestServer is a running inventory server backed by an in-memory store.
type TestServer struct {
	Server   *server.Server
	Live     *store.Live
	Registry *inventory.Registry
	BaseURL  string
	WSURL    string
}

// NewTestServer starts a server on a free port and stops it when the test
// ends. A non-nil authenticator guards writes.
func NewTestServer(t *testing.T, authenticator auth.Authenticator) *TestServer {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	_ = listener.Close()

	cfg := config.Default()
	cfg.ServerPort = port
	cfg.ProbePort = 0
	cfg.MetricsEnabled = false
	cfg.SearchDebounce = 30 * time.Millisecond
	cfg.SearchGrace = 200 * time.Millisecond

	logger := zap.NewNop()
	live := store.NewLive(store.NewMemoryStore(), logger)
	registry := inventory.NewRegistry(live, inventory.Options{Logger: logger})
	srv := server.New(cfg, logger, server.Deps{Live: live, Registry: registry, Authenticator: authenticator})

	go func() {
		if err := srv.Start(); err != nil {
			t.Logf("server error: %v", err)
		}
	}()

	ts := &TestServer{
		Server:   srv,
		Live:     live,
		Registry: registry,
		BaseURL:  fmt.Sprintf("http://127.0.0.1:%d", port),
		WSURL:    fmt.Sprintf("ws://127.0.0.1:%d", port),
	}
	ts.waitForReady(t)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			t.Logf("shutdown error: %v", err)
		}
		registry.Close()
	})

	return ts
}

func (ts *TestServer) waitForReady(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(requestTimeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(ts.BaseURL + "/health")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("server did not become ready")
}

// Response is a buffered HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Do sends a request with an optional JSON body and headers.
func (ts *TestServer) Do(t *testing.T, method, path string, body any, headers map[string]string) *Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, ts.BaseURL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}
}

// Create adds an item through the API and returns it.
func (ts *TestServer) Create(t *testing.T, name, price string, quantity int) model.Item {
	t.Helper()
	resp := ts.Do(t, http.MethodPost, "/api/v1/items",
		map[string]any{"name": name, "price": price, "quantity": quantity}, nil)
	AssertStatusCode(t, resp, http.StatusCreated)
	return DecodeData[model.Item](t, resp)
}

// Details fetches GET /api/v1/items/{id}.
func (ts *TestServer) Details(t *testing.T, id int64) model.ItemDetails {
	t.Helper()
	resp := ts.Do(t, http.MethodGet, fmt.Sprintf("/api/v1/items/%d", id), nil, nil)
	AssertStatusCode(t, resp, http.StatusOK)
	return DecodeData[model.ItemDetails](t, resp)
}

// Dial opens a WebSocket stream.
func (ts *TestServer) Dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(ts.WSURL+path, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// DecodeData unwraps the success envelope.
func DecodeData[T any](t *testing.T, resp *Response) T {
	t.Helper()
	var envelope model.APIResponse[T]
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		t.Fatalf("decode %s: %v", resp.Body, err)
	}
	if !envelope.Success {
		t.Fatalf("response not successful: %s", resp.Body)
	}
	return envelope.Data
}

// ReadUntil reads stream messages until match accepts one.
func ReadUntil(t *testing.T, conn *websocket.Conn, match func(model.StreamMessage) bool) model.StreamMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(eventualTimeout))
	for {
		var msg model.StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if match(msg) {
			return msg
		}
	}
}

// Eventually polls cond until it holds or the timeout passes.
func Eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(eventualTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// AssertStatusCode fails the test on an unexpected status.
func AssertStatusCode(t *testing.T, resp *Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("status = %d, want %d, body = %s", resp.StatusCode, expected, strings.TrimSpace(string(resp.Body)))
	}
}

// Names lists item names in order.
func Names(items []model.Item) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.Name)
	}
	return out
}
