package withdraw

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/echezona/sokopay/internal/identity"
	"github.com/echezona/sokopay/internal/logging"
	"github.com/echezona/sokopay/internal/validation"
	"github.com/echezona/sokopay/internal/wallet"
)

// Handler exposes withdrawal endpoints over HTTP.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts user withdrawal routes. Requires auth.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/withdrawals", h.request)
	r.GET("/withdrawals", h.list)
	r.GET("/withdrawals/:id", h.get)
}

// RegisterAdminRoutes mounts the payout queue routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/withdrawals/pending", h.listPending)
	r.POST("/withdrawals/:id/complete", h.complete)
	r.POST("/withdrawals/:id/fail", h.failPayout)
}

type requestBody struct {
	Amount        int64  `json:"amount"`
	BankCode      string `json:"bankCode"`
	AccountNumber string `json:"accountNumber"`
	AccountName   string `json:"accountName"`
}

func (h *Handler) request(c *gin.Context) {
	var req requestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := validation.Validate(
		validation.PositiveAmount("amount", req.Amount),
		validation.Required("bankCode", req.BankCode),
		validation.Required("accountNumber", req.AccountNumber),
		validation.Required("accountName", req.AccountName),
		validation.MaxLength("accountName", req.AccountName, 120),
	); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	w, err := h.svc.Request(c.Request.Context(), identity.UserID(c), req.Amount,
		req.BankCode, req.AccountNumber, validation.SanitizeString(req.AccountName, 120))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

func (h *Handler) list(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	ws, err := h.svc.ListByUser(c.Request.Context(), identity.UserID(c), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	if ws == nil {
		ws = []*Withdrawal{}
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": ws, "count": len(ws)})
}

func (h *Handler) get(c *gin.Context) {
	isAdmin := identity.Role(c) == identity.RoleAdmin
	w, err := h.svc.Get(c.Request.Context(), identity.UserID(c), isAdmin, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (h *Handler) listPending(c *gin.Context) {
	ws, err := h.svc.ListPending(c.Request.Context(), 100)
	if err != nil {
		h.fail(c, err)
		return
	}
	if ws == nil {
		ws = []*Withdrawal{}
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": ws, "count": len(ws)})
}

func (h *Handler) complete(c *gin.Context) {
	w, err := h.svc.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

type failBody struct {
	Reason string `json:"reason"`
}

func (h *Handler) failPayout(c *gin.Context) {
	var req failBody
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "payout failed"
	}

	w, err := h.svc.Fail(c.Request.Context(), c.Param("id"), validation.SanitizeString(req.Reason, 500))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrWithdrawalNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "withdrawal not found"})
	case errors.Is(err, ErrBelowMinimum):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, wallet.ErrInsufficientFunds), errors.Is(err, wallet.ErrWalletNotFound):
		c.JSON(http.StatusConflict, gin.H{"error": "insufficient available balance"})
	case errors.Is(err, ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, wallet.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "concurrent update, retry"})
	default:
		logging.L(c.Request.Context()).Error("withdrawal request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
