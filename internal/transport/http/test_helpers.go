package http

import (
	"bytes"
	"context"
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/airwavehq/airwave-server/internal/auth"
	"github.com/airwavehq/airwave-server/internal/config"
	"github.com/airwavehq/airwave-server/internal/radio"
	"github.com/airwavehq/airwave-server/internal/recorder"
	"github.com/airwavehq/airwave-server/internal/store"
	"github.com/airwavehq/airwave-server/internal/store/sqlite"
)

// testEnv bundles everything a transport test needs.
type testEnv struct {
	ts      *httptest.Server
	store   store.Store
	auth    *auth.Service
	manager *radio.Manager
}

// startTestServer spins up the full HTTP surface over an in-memory store.
func startTestServer(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := zerolog.New(nil)

	rec, err := recorder.New(t.TempDir(), &logger)
	if err != nil {
		t.Fatalf("failed to create recorder: %v", err)
	}

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte("test-secret-change-me"),
		Issuer:   "test",
		Audience: "test",
		TTL:      24 * time.Hour,
	}
	authService := auth.NewService(st, jwtConfig)

	manager := radio.New(st, st, rec, &logger)

	cfg := &config.Config{
		Addr:              ":0",
		ReadHeaderTimeout: time.Second,
		ShutdownTimeout:   time.Second,
	}
	server := NewServer(manager, authService, st, cfg, &logger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, store: st, auth: authService, manager: manager}
}

// registerUser registers a user through the auth service and returns a token.
func (e *testEnv) registerUser(t *testing.T, phone, username string) string {
	t.Helper()

	token, err := e.auth.Register(context.Background(), phone, username, "password123")
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return token
}

// createChannel creates a channel owned by the given user.
func (e *testEnv) createChannel(t *testing.T, name, code string, ownerToken string) *store.Channel {
	t.Helper()

	claims, err := e.auth.ValidateToken(ownerToken)
	if err != nil {
		t.Fatalf("validate owner token: %v", err)
	}
	ch, err := e.store.CreateChannel(context.Background(), name, code, claims.UserID)
	if err != nil {
		t.Fatalf("create channel %s: %v", name, err)
	}
	return ch
}

// apiRequest performs an authenticated JSON request and decodes the response.
func (e *testEnv) apiRequest(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()

	var payload *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		payload = bytes.NewReader(data)
	} else {
		payload = bytes.NewReader(nil)
	}

	req, err := stdhttp.NewRequest(method, e.ts.URL+path, payload)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}
