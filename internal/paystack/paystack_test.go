package paystack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "sk_test_secret"

func TestInitializeSuccess(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer "+testSecret, r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, float64(120000), req["amount"])
		assert.Equal(t, "buyer@example.com", req["email"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": true,
			"message": "Authorization URL created",
			"data": {
				"authorization_url": "https://checkout.example.com/abc123",
				"access_code": "abc123",
				"reference": "ref_1"
			}
		}`))
	}))
	defer gateway.Close()

	client := NewClient(gateway.URL, testSecret, 5*time.Second)
	auth, err := client.Initialize(context.Background(), "buyer@example.com", 120000, "ref_1")
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.example.com/abc123", auth.AuthorizationURL)
	assert.Equal(t, "ref_1", auth.Reference)
}

func TestInitializeDeclined(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status": false, "message": "Invalid amount"}`))
	}))
	defer gateway.Close()

	client := NewClient(gateway.URL, testSecret, 5*time.Second)
	_, err := client.Initialize(context.Background(), "buyer@example.com", -1, "ref_1")
	assert.ErrorIs(t, err, ErrGatewayDeclined)
}

func TestInitializeGatewayDown(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	gateway.Close() // refuse connections

	client := NewClient(gateway.URL, testSecret, time.Second)
	_, err := client.Initialize(context.Background(), "buyer@example.com", 1000, "ref_1")
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestInitializeServerError(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer gateway.Close()

	client := NewClient(gateway.URL, testSecret, 5*time.Second)
	_, err := client.Initialize(context.Background(), "buyer@example.com", 1000, "ref_1")
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"charge.success"}`)
	sig := Sign(testSecret, body)

	assert.True(t, VerifySignature(testSecret, body, sig))
	assert.False(t, VerifySignature(testSecret, body, "deadbeef"))
	assert.False(t, VerifySignature(testSecret, []byte(`tampered`), sig))
	assert.False(t, VerifySignature("wrong-secret", body, sig))
}

func TestParseEvent(t *testing.T) {
	body := []byte(`{
		"event": "charge.success",
		"data": {"reference": "ref_1", "amount": 120000, "paid_at": "2026-08-30T12:00:00Z"}
	}`)
	ev, err := ParseEvent(body)
	require.NoError(t, err)
	assert.Equal(t, EventChargeSuccess, ev.Type)
	assert.Equal(t, "ref_1", ev.Reference)
	assert.Equal(t, int64(120000), ev.Amount)
	assert.Equal(t, 2026, ev.PaidAt.Year())
}

type recordingSink struct {
	succeeded []*ChargeEvent
	failed    []*ChargeEvent
	err       error
}

func (s *recordingSink) HandleChargeSucceeded(ctx context.Context, ev *ChargeEvent) error {
	s.succeeded = append(s.succeeded, ev)
	return s.err
}

func (s *recordingSink) HandleChargeFailed(ctx context.Context, ev *ChargeEvent) error {
	s.failed = append(s.failed, ev)
	return nil
}

func newWebhookRouter(sink EventSink) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewWebhookHandler(testSecret, sink)
	h.RegisterRoutes(r.Group("/v1"))
	return r
}

func postWebhook(r *gin.Engine, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/paystack", strings.NewReader(body))
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookDispatchesChargeSuccess(t *testing.T) {
	sink := &recordingSink{}
	r := newWebhookRouter(sink)

	body := `{"event":"charge.success","data":{"reference":"ref_1","amount":120000}}`
	w := postWebhook(r, body, Sign(testSecret, []byte(body)))

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, sink.succeeded, 1)
	assert.Equal(t, "ref_1", sink.succeeded[0].Reference)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	sink := &recordingSink{}
	r := newWebhookRouter(sink)

	body := `{"event":"charge.success","data":{"reference":"ref_1","amount":120000}}`
	w := postWebhook(r, body, "deadbeef")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, sink.succeeded)

	w = postWebhook(r, body, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookSinkFailureTriggersRedelivery(t *testing.T) {
	sink := &recordingSink{err: assert.AnError}
	r := newWebhookRouter(sink)

	body := `{"event":"charge.success","data":{"reference":"ref_1","amount":120000}}`
	w := postWebhook(r, body, Sign(testSecret, []byte(body)))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestWebhookIgnoresUnknownEvents(t *testing.T) {
	sink := &recordingSink{}
	r := newWebhookRouter(sink)

	body := `{"event":"transfer.success","data":{"reference":"ref_9"}}`
	w := postWebhook(r, body, Sign(testSecret, []byte(body)))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, sink.succeeded)
	assert.Empty(t, sink.failed)
}

func TestWebhookChargeFailed(t *testing.T) {
	sink := &recordingSink{}
	r := newWebhookRouter(sink)

	body := `{"event":"charge.failed","data":{"reference":"ref_1","amount":120000}}`
	w := postWebhook(r, body, Sign(testSecret, []byte(body)))

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, sink.failed, 1)
}
