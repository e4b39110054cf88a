package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/echezona/sokopay/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal in-memory config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:                 "0",
		Env:                  "development",
		LogLevel:             "error",
		PaystackSecret:       "sk_test_0000000000000000000000000000",
		PaystackBaseURL:      "https://api.paystack.co",
		GatewayTimeout:       5 * time.Second,
		JWTSecret:            "0123456789abcdef0123456789abcdef",
		TokenTTL:             time.Hour,
		ReleaseAfter:         120 * time.Hour,
		SweepInterval:        time.Hour,
		AdRewardAmount:       5000,
		ReferralRewardAmount: 10000,
		RateLimitRPM:         10000,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/live", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/ready", nil)
	s.router.ServeHTTP(w, req)

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/metrics",
		"GET:/ws",
		"POST:/v1/signup",
		"POST:/v1/login",
		"GET:/v1/products",
		"GET:/v1/products/:id",
		"POST:/v1/webhooks/paystack",
		"GET:/v1/wallet",
		"GET:/v1/wallet/history",
		"POST:/v1/orders",
		"POST:/v1/orders/:id/confirm",
		"POST:/v1/orders/:id/dispute",
		"POST:/v1/disputes/:id/resolve",
		"POST:/v1/withdrawals",
		"POST:/v1/rewards/ad",
		"POST:/v1/rewards/referral",
		"POST:/v1/me/request-seller",
		"GET:/v1/disputes",
		"GET:/v1/notifications",
		"GET:/v1/users",
		"GET:/v1/withdrawals/pending",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// End-to-end account flow (in-memory stores)
// ---------------------------------------------------------------------------

func TestSignupLoginWalletFlow(t *testing.T) {
	s := newTestServer(t)

	// Signup
	body := `{"email":"ada@example.com","password":"correct-horse","name":"Ada"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/signup", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	// Login
	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/v1/login", strings.NewReader(`{"email":"ada@example.com","password":"correct-horse"}`))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var loginResp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &loginResp); err != nil {
		t.Fatalf("parse login response: %v", err)
	}
	if loginResp.Token == "" {
		t.Fatal("login returned empty token")
	}

	// Wallet requires auth
	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/v1/wallet", nil)
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wallet without token: expected 401, got %d", w.Code)
	}

	// Wallet with token starts empty
	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/v1/wallet", nil)
	req.Header.Set("Authorization", "Bearer "+loginResp.Token)
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("wallet: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var balance struct {
		Available int64 `json:"available"`
		Pending   int64 `json:"pending"`
		Frozen    int64 `json:"frozen"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &balance); err != nil {
		t.Fatalf("parse wallet response: %v", err)
	}
	if balance.Available != 0 || balance.Pending != 0 || balance.Frozen != 0 {
		t.Errorf("expected empty wallet, got %+v", balance)
	}
}

func TestAdminRoutesRejectNonAdmin(t *testing.T) {
	s := newTestServer(t)

	// Signup + login a regular buyer
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/signup", strings.NewReader(`{"email":"obi@example.com","password":"correct-horse","name":"Obi"}`))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("signup: got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/v1/login", strings.NewReader(`{"email":"obi@example.com","password":"correct-horse"}`))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	var loginResp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &loginResp); err != nil {
		t.Fatalf("parse login response: %v", err)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/v1/users", nil)
	req.Header.Set("Authorization", "Bearer "+loginResp.Token)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("admin route as buyer: expected 403, got %d", w.Code)
	}
}
