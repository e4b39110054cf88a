package wallet

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/echezona/sokopay/internal/identity"
	"github.com/echezona/sokopay/internal/logging"
)

// Handler exposes wallet endpoints over HTTP.
type Handler struct {
	ledger *Ledger
}

func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// RegisterRoutes mounts wallet routes. All of them require auth.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/wallet", h.getWallet)
	r.GET("/wallet/history", h.getHistory)
}

func (h *Handler) getWallet(c *gin.Context) {
	userID := identity.UserID(c)

	// The wallet is provisioned on signup, but users created before
	// wallets existed still get an empty one here.
	if err := h.ledger.Ensure(c.Request.Context(), userID); err != nil {
		h.fail(c, err)
		return
	}
	balance, err := h.ledger.Get(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

func (h *Handler) getHistory(c *gin.Context) {
	userID := identity.UserID(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	entries, err := h.ledger.History(c.Request.Context(), userID, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	if entries == nil {
		entries = []*Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrWalletNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "wallet not found"})
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidBucket):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrInsufficientFunds):
		c.JSON(http.StatusConflict, gin.H{"error": "insufficient funds"})
	case errors.Is(err, ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "concurrent update, retry"})
	default:
		logging.L(c.Request.Context()).Error("wallet request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
