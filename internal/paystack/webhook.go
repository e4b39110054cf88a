package paystack

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/echezona/sokopay/internal/logging"
	"github.com/echezona/sokopay/internal/metrics"
)

// SignatureHeader carries the gateway's HMAC of the raw request body.
const SignatureHeader = "x-paystack-signature"

// Event types the webhook cares about.
const (
	EventChargeSuccess = "charge.success"
	EventChargeFailed  = "charge.failed"
)

// maxWebhookBody bounds how much of a webhook request is read.
const maxWebhookBody = 1 << 20

// ChargeEvent is a charge notification from the gateway.
type ChargeEvent struct {
	Type      string    `json:"type"`
	Reference string    `json:"reference"`
	Amount    int64     `json:"amount"`
	PaidAt    time.Time `json:"paidAt"`
}

type webhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
		PaidAt    string `json:"paid_at"`
	} `json:"data"`
}

// Sign computes the hex HMAC-SHA512 of body under secret. Exported for
// tests that build webhook requests.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the gateway signature in constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ParseEvent decodes a verified webhook body.
func ParseEvent(body []byte) (*ChargeEvent, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	ev := &ChargeEvent{
		Type:      payload.Event,
		Reference: payload.Data.Reference,
		Amount:    payload.Data.Amount,
	}
	if payload.Data.PaidAt != "" {
		if t, err := time.Parse(time.RFC3339, payload.Data.PaidAt); err == nil {
			ev.PaidAt = t
		}
	}
	if ev.PaidAt.IsZero() {
		ev.PaidAt = time.Now()
	}
	return ev, nil
}

// EventSink applies verified charge events.
type EventSink interface {
	HandleChargeSucceeded(ctx context.Context, ev *ChargeEvent) error
	HandleChargeFailed(ctx context.Context, ev *ChargeEvent) error
}

// WebhookHandler verifies and dispatches inbound gateway webhooks.
type WebhookHandler struct {
	secret string
	sink   EventSink
}

func NewWebhookHandler(secret string, sink EventSink) *WebhookHandler {
	return &WebhookHandler{secret: secret, sink: sink}
}

// RegisterRoutes mounts the webhook endpoint. It must be mounted
// outside the auth middleware: the gateway authenticates with its
// signature, not a session.
func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/paystack", h.handle)
}

func (h *WebhookHandler) handle(c *gin.Context) {
	log := logging.L(c.Request.Context())

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("read_error").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	if !VerifySignature(h.secret, body, c.GetHeader(SignatureHeader)) {
		metrics.WebhookEventsTotal.WithLabelValues("bad_signature").Inc()
		log.Warn("webhook signature mismatch", "remote", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	ev, err := ParseEvent(body)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("bad_payload").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	switch ev.Type {
	case EventChargeSuccess:
		if err := h.sink.HandleChargeSucceeded(c.Request.Context(), ev); err != nil {
			metrics.WebhookEventsTotal.WithLabelValues("apply_error").Inc()
			log.Error("apply charge.success failed", "reference", ev.Reference, "error", err)
			// Non-200 makes the gateway redeliver. Application is
			// idempotent, so redelivery is safe.
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not apply event"})
			return
		}
		metrics.WebhookEventsTotal.WithLabelValues("charge_success").Inc()
	case EventChargeFailed:
		if err := h.sink.HandleChargeFailed(c.Request.Context(), ev); err != nil {
			log.Warn("apply charge.failed failed", "reference", ev.Reference, "error", err)
		}
		metrics.WebhookEventsTotal.WithLabelValues("charge_failed").Inc()
	default:
		// Unknown events are acknowledged so the gateway stops resending.
		metrics.WebhookEventsTotal.WithLabelValues("ignored").Inc()
		log.Debug("ignoring webhook event", "type", ev.Type)
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
