package rewards

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/echezona/sokopay/internal/identity"
	"github.com/echezona/sokopay/internal/logging"
	"github.com/echezona/sokopay/internal/validation"
)

// Handler exposes reward endpoints over HTTP.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts reward routes. All require auth.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/rewards/ad", h.watchAd)
	r.POST("/rewards/referral", h.submitReferral)
}

func (h *Handler) watchAd(c *gin.Context) {
	amount, err := h.svc.WatchAd(c.Request.Context(), identity.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credited": amount})
}

type referralRequest struct {
	ReferrerID string `json:"referrerId"`
}

func (h *Handler) submitReferral(c *gin.Context) {
	var req referralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := validation.Validate(validation.Required("referrerId", req.ReferrerID)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	amount, err := h.svc.SubmitReferral(c.Request.Context(), identity.UserID(c), req.ReferrerID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credited": amount})
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrAlreadyClaimed):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, ErrAlreadyReferred):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ErrSelfReferral):
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot refer yourself"})
	case errors.Is(err, identity.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "referrer not found"})
	default:
		logging.L(c.Request.Context()).Error("reward request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
