package escrow

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/echezona/sokopay/internal/identity"
	"github.com/echezona/sokopay/internal/logging"
	"github.com/echezona/sokopay/internal/paystack"
	"github.com/echezona/sokopay/internal/product"
	"github.com/echezona/sokopay/internal/validation"
	"github.com/echezona/sokopay/internal/wallet"
)

// Handler exposes order endpoints over HTTP.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts order routes. All require auth.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/orders", h.create)
	r.GET("/orders", h.list)
	r.GET("/orders/:id", h.get)
	r.POST("/orders/:id/confirm", h.confirm)
}

type createOrderRequest struct {
	ProductID string `json:"productId"`
}

func (h *Handler) create(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := validation.Validate(validation.Required("productId", req.ProductID)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	o, err := h.svc.CreateOrder(c.Request.Context(), identity.UserID(c), req.ProductID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (h *Handler) list(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	orders, err := h.svc.ListByUser(c.Request.Context(), identity.UserID(c), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	if orders == nil {
		orders = []*Order{}
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

func (h *Handler) get(c *gin.Context) {
	o, err := h.svc.Get(c.Request.Context(), identity.UserID(c), identity.Role(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

type confirmRequest struct {
	Rating int `json:"rating"`
}

func (h *Handler) confirm(c *gin.Context) {
	var req confirmRequest
	// Body is optional: confirming without a rating is fine.
	_ = c.ShouldBindJSON(&req)

	o, err := h.svc.ConfirmDelivery(c.Request.Context(), identity.UserID(c), identity.Role(c), c.Param("id"), req.Rating)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, product.ErrProductNotFound),
		errors.Is(err, identity.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant in this order"})
	case errors.Is(err, ErrFraudBlocked):
		c.JSON(http.StatusForbidden, gin.H{"error": "order blocked by risk checks"})
	case errors.Is(err, ErrSelfPurchase):
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot buy your own product"})
	case errors.Is(err, product.ErrProductUnavailable):
		c.JSON(http.StatusConflict, gin.H{"error": "product unavailable"})
	case errors.Is(err, ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, wallet.ErrInsufficientFunds):
		c.JSON(http.StatusConflict, gin.H{"error": "insufficient escrow balance"})
	case errors.Is(err, wallet.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "concurrent update, retry"})
	case errors.Is(err, paystack.ErrGatewayUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment gateway unavailable"})
	case errors.Is(err, paystack.ErrGatewayDeclined):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "payment gateway declined the request"})
	default:
		logging.L(c.Request.Context()).Error("order request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
