package handler

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/fabian4/gateway-homebrew-go/internal/config"
	fwd "github.com/fabian4/gateway-homebrew-go/internal/forward"
)

// signHS256 builds a minimal JWT-shaped token (header.payload.signature,
// all base64url, no padding) signed with HS256 under secret, for tests
// that need a genuinely well-formed token rather than garbage input.
func signHS256(t *testing.T, secret string, exp int64) string {
	t.Helper()
	enc := base64.RawURLEncoding.EncodeToString
	header := enc([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload := enc([]byte(`{"exp":` + strconv.FormatInt(exp, 10) + `}`))
	signingInput := header + "." + payload
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signingInput))
	sig := enc(mac.Sum(nil))
	return signingInput + "." + sig
}

func writeConfig(t *testing.T, yml string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	fp := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(fp, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(fp)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return cfg
}

func newTestGateway(t *testing.T, upstreamURL string, extra string) *Gateway {
	t.Helper()
	host, port := splitHostPort(t, upstreamURL)
	yml := `
server:
  http_port: 8080
performance:
  rate_limit: 1000
  rate_window_seconds: 60
routes:
  - path_prefix: /api
    backends:
      - {name: b1, host: ` + host + `, port: ` + port + `}
` + extra
	cfg := writeConfig(t, yml)
	var buf bytes.Buffer
	gw, err := NewGateway(cfg, fwd.NewDefaultRegistry(), &buf, nil, nil)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	return gw
}

func splitHostPort(t *testing.T, rawURL string) (string, string) {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatal(err)
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatal(err)
	}
	return host, port
}

// TestGateway_S1_CacheHit reproduces scenario S1: a cacheable GET is
// forwarded once, then served from cache on the second request.
func TestGateway_S1_CacheHit(t *testing.T) {
	var upstreamHits int
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamHits++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer up.Close()

	gw := newTestGateway(t, up.URL, "    cache_enabled: true\n    cache_ttl_seconds: 60\n")

	req := httptest.NewRequest(http.MethodGet, "/api/widgets", nil)
	rr := httptest.NewRecorder()
	gw.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("first request: got %d", rr.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/api/widgets", nil)
	rr2 := httptest.NewRecorder()
	gw.ServeHTTP(rr2, req2)
	if rr2.Code != http.StatusOK {
		t.Fatalf("second request: got %d", rr2.Code)
	}
	if rr2.Header().Get("X-Proxy-Cache") != "HIT" {
		t.Fatalf("want second request served from cache, got headers %v", rr2.Header())
	}
	if upstreamHits != 1 {
		t.Fatalf("want exactly one upstream hit, got %d", upstreamHits)
	}
}

// TestGateway_S2_RateLimited reproduces scenario S2: limit=1 lets one
// request through then 429s the next from the same client.
func TestGateway_S2_RateLimited(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()

	host, port := splitHostPort(t, up.URL)
	yml := `
server:
  http_port: 8080
performance:
  rate_limit: 1
  rate_window_seconds: 60
routes:
  - path_prefix: /api
    backends: [{name: b1, host: ` + host + `, port: ` + port + `}]
`
	cfg := writeConfig(t, yml)
	gw, err := NewGateway(cfg, fwd.NewDefaultRegistry(), nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	req.RemoteAddr = "10.0.0.1:1111"
	rr := httptest.NewRecorder()
	gw.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("first request: got %d", rr.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	req2.RemoteAddr = "10.0.0.1:2222"
	rr2 := httptest.NewRecorder()
	gw.ServeHTTP(rr2, req2)
	if rr2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: got %d, want 429", rr2.Code)
	}
	if got := strings.TrimSpace(rr2.Body.String()); got != "Rate limit exceeded" {
		t.Fatalf("body: got %q, want %q", got, "Rate limit exceeded")
	}
}

// TestGateway_S3_NoHealthyBackend reproduces scenario S3: every backend
// unhealthy yields 503.
func TestGateway_S3_NoHealthyBackend(t *testing.T) {
	yml := `
server:
  http_port: 8080
performance:
  rate_limit: 1000
  rate_window_seconds: 60
routes:
  - path_prefix: /api
    backends: [{name: b1, host: 127.0.0.1, port: 1}]
`
	cfg := writeConfig(t, yml)
	gw, err := NewGateway(cfg, fwd.NewDefaultRegistry(), nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	gw.State().Health.Set("/api", "b1", false)

	req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	rr := httptest.NewRecorder()
	gw.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("got %d, want 503", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "No backend available" {
		t.Fatalf("body: got %q, want %q", got, "No backend available")
	}
}

// TestGateway_S4_WebsocketUpgradeRejected reproduces scenario S4.
func TestGateway_S4_WebsocketUpgradeRejected(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()
	gw := newTestGateway(t, up.URL, "")

	req := httptest.NewRequest(http.MethodGet, "/api/ws", nil)
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	rr := httptest.NewRecorder()
	gw.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rr.Code)
	}
	want := "WebSocket connections should be made to the WebSocket port"
	if got := strings.TrimSpace(rr.Body.String()); got != want {
		t.Fatalf("body: got %q, want %q", got, want)
	}
}

// TestGateway_S5_AuthRejectsMalformedToken covers the generic
// malformed/unsigned-token case, which stays a 401.
func TestGateway_S5_AuthRejectsMalformedToken(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()

	host, port := splitHostPort(t, up.URL)
	yml := `
server:
  http_port: 8080
security:
  jwt_auth_enabled: true
  jwt_secret: shh
performance:
  rate_limit: 1000
  rate_window_seconds: 60
routes:
  - path_prefix: /api
    backends: [{name: b1, host: ` + host + `, port: ` + port + `}]
`
	cfg := writeConfig(t, yml)
	gw, err := NewGateway(cfg, fwd.NewDefaultRegistry(), nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	rr := httptest.NewRecorder()
	gw.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401", rr.Code)
	}
}

// TestGateway_S5_Auth reproduces scenario S5 exactly: a validly-signed
// HS256 token with exp = now+60 is admitted (200); the identical token
// signed with exp = now-1 is rejected with 403, not 401.
func TestGateway_S5_Auth(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()

	host, port := splitHostPort(t, up.URL)
	yml := `
server:
  http_port: 8080
security:
  jwt_auth_enabled: true
  jwt_secret: k
performance:
  rate_limit: 1000
  rate_window_seconds: 60
routes:
  - path_prefix: /api
    backends: [{name: b1, host: ` + host + `, port: ` + port + `}]
`
	cfg := writeConfig(t, yml)
	gw, err := NewGateway(cfg, fwd.NewDefaultRegistry(), nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	valid := signHS256(t, "k", time.Now().Add(60*time.Second).Unix())
	req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	req.Header.Set("Authorization", "Bearer "+valid)
	rr := httptest.NewRecorder()
	gw.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("valid token: got %d, want 200", rr.Code)
	}

	expired := signHS256(t, "k", time.Now().Add(-1*time.Second).Unix())
	req2 := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	req2.Header.Set("Authorization", "Bearer "+expired)
	rr2 := httptest.NewRecorder()
	gw.ServeHTTP(rr2, req2)
	if rr2.Code != http.StatusForbidden {
		t.Fatalf("expired token: got %d, want 403", rr2.Code)
	}
}

// TestGateway_S6_LongestPrefixWins reproduces scenario S6.
func TestGateway_S6_LongestPrefixWins(t *testing.T) {
	var seenPath string
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()
	host, port := splitHostPort(t, up.URL)

	yml := `
server:
  http_port: 8080
performance:
  rate_limit: 1000
  rate_window_seconds: 60
routes:
  - path_prefix: /api
    backends: [{name: general, host: ` + host + `, port: ` + port + `}]
  - path_prefix: /api/special
    backends: [{name: special, host: ` + host + `, port: ` + port + `}]
`
	cfg := writeConfig(t, yml)
	gw, err := NewGateway(cfg, fwd.NewDefaultRegistry(), nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/special/x", nil)
	rr := httptest.NewRecorder()
	gw.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d", rr.Code)
	}
	if seenPath != "/api/special/x" {
		t.Fatalf("got path %q", seenPath)
	}
}

// TestGateway_AdmissionOrdering checks part of property #4: 403
// (allow-list) takes precedence over 401 (auth) and 404 (no route), and
// 401 takes precedence over 404.
func TestGateway_AdmissionOrdering(t *testing.T) {
	yml := `
server:
  http_port: 8080
security:
  jwt_auth_enabled: true
  jwt_secret: shh
  ip_whitelist: ["10.0.0.1"]
performance:
  rate_limit: 1000
  rate_window_seconds: 60
routes:
  - path_prefix: /api
    backends: [{name: b1, host: 127.0.0.1, port: 1}]
`
	cfg := writeConfig(t, yml)
	gw, err := NewGateway(cfg, fwd.NewDefaultRegistry(), nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Disallowed IP and missing auth and no route: 403 must win.
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	req.RemoteAddr = "10.0.0.2:1111"
	rr := httptest.NewRecorder()
	gw.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("got %d, want 403", rr.Code)
	}

	// Allowed IP, missing auth, no route: 401 must win over 404.
	req2 := httptest.NewRequest(http.MethodGet, "/nope", nil)
	req2.RemoteAddr = "10.0.0.1:1111"
	rr2 := httptest.NewRecorder()
	gw.ServeHTTP(rr2, req2)
	if rr2.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401", rr2.Code)
	}
}

func TestGateway_AccessLogEmitted(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer up.Close()
	host, port := splitHostPort(t, up.URL)

	yml := `
server:
  http_port: 8080
performance:
  rate_limit: 1000
  rate_window_seconds: 60
routes:
  - path_prefix: /api
    backends: [{name: b1, host: ` + host + `, port: ` + port + `}]
`
	cfg := writeConfig(t, yml)
	var buf bytes.Buffer
	gw, err := NewGateway(cfg, fwd.NewDefaultRegistry(), &buf, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/foo", nil)
	rr := httptest.NewRecorder()
	gw.ServeHTTP(rr, req)

	var entry AccessLog
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log: %v\nraw: %s", err, buf.String())
	}
	if entry.Method != http.MethodGet || entry.Path != "/api/foo" {
		t.Errorf("unexpected log entry: %+v", entry)
	}
	if entry.Status != http.StatusOK {
		t.Errorf("log status: got %d, want 200", entry.Status)
	}
	if entry.RequestID == "" {
		t.Error("want a non-empty request id")
	}
	if entry.Time.After(time.Now()) {
		t.Error("log time should not be in the future")
	}
}
