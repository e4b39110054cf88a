package dispute

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/echezona/sokopay/internal/escrow"
	"github.com/echezona/sokopay/internal/identity"
	"github.com/echezona/sokopay/internal/logging"
	"github.com/echezona/sokopay/internal/validation"
	"github.com/echezona/sokopay/internal/wallet"
)

// Handler exposes dispute endpoints over HTTP.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts participant routes. Requires auth.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/orders/:id/dispute", h.open)
	r.GET("/disputes/:id", h.get)
}

// RegisterStaffRoutes mounts read-only triage routes, open to admins
// and subadmins.
func (h *Handler) RegisterStaffRoutes(r *gin.RouterGroup) {
	r.GET("/disputes", h.list)
}

// RegisterAdminRoutes mounts admin-only dispute routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/disputes/:id/resolve", h.resolve)
}

type openRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) open(c *gin.Context) {
	var req openRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := validation.Validate(
		validation.Required("reason", req.Reason),
		validation.MaxLength("reason", req.Reason, 2000),
	); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d, err := h.svc.Open(c.Request.Context(), identity.UserID(c), c.Param("id"),
		validation.SanitizeString(req.Reason, 2000))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (h *Handler) get(c *gin.Context) {
	d, err := h.svc.Get(c.Request.Context(), identity.UserID(c), identity.Role(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) list(c *gin.Context) {
	status := c.DefaultQuery("status", escrow.DisputeOpen)
	if status == "all" {
		status = ""
	}
	disputes, err := h.svc.List(c.Request.Context(), status, 100)
	if err != nil {
		h.fail(c, err)
		return
	}
	if disputes == nil {
		disputes = []*escrow.Dispute{}
	}
	c.JSON(http.StatusOK, gin.H{"disputes": disputes, "count": len(disputes)})
}

type resolveRequest struct {
	Outcome string `json:"outcome"`
	Note    string `json:"note"`
}

func (h *Handler) resolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	outcome := escrow.Outcome(req.Outcome)
	if outcome != escrow.OutcomeRelease && outcome != escrow.OutcomeRefund {
		c.JSON(http.StatusBadRequest, gin.H{"error": "outcome must be release or refund"})
		return
	}

	d, err := h.svc.Resolve(c.Request.Context(), identity.UserID(c), c.Param("id"), outcome,
		validation.SanitizeString(req.Note, 2000))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, escrow.ErrOrderNotFound), errors.Is(err, escrow.ErrDisputeNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, escrow.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant in this order"})
	case errors.Is(err, escrow.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, wallet.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "concurrent update, retry"})
	default:
		logging.L(c.Request.Context()).Error("dispute request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
