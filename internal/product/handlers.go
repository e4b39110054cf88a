package product

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/echezona/sokopay/internal/identity"
	"github.com/echezona/sokopay/internal/logging"
	"github.com/echezona/sokopay/internal/validation"
)

// Handler exposes catalog endpoints over HTTP.
type Handler struct {
	catalog *Catalog
}

func NewHandler(catalog *Catalog) *Handler {
	return &Handler{catalog: catalog}
}

// RegisterPublicRoutes mounts browse routes that need no auth.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.GET("/products", h.list)
	r.GET("/products/:id", h.get)
}

// RegisterRoutes mounts seller routes. Requires auth.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/products", h.create)
	r.DELETE("/products/:id", h.delist)
	r.GET("/products/mine", h.mine)
}

type createRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
}

func (h *Handler) create(c *gin.Context) {
	u := identity.CurrentUser(c)
	if u == nil || (u.Role != identity.RoleSeller && u.Role != identity.RoleAdmin) {
		c.JSON(http.StatusForbidden, gin.H{"error": "approved sellers only"})
		return
	}

	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := validation.Validate(
		validation.Required("title", req.Title),
		validation.MaxLength("title", req.Title, 200),
		validation.MaxLength("description", req.Description, 2000),
		validation.PositiveAmount("price", req.Price),
	); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.catalog.Create(c.Request.Context(), u.ID,
		validation.SanitizeString(req.Title, 200), validation.SanitizeString(req.Description, 5000), req.Price)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) list(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	onlyAvailable := c.DefaultQuery("available", "true") != "false"

	products, err := h.catalog.List(c.Request.Context(), onlyAvailable, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	if products == nil {
		products = []*Product{}
	}
	c.JSON(http.StatusOK, gin.H{"products": products, "count": len(products)})
}

func (h *Handler) get(c *gin.Context) {
	p, err := h.catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) mine(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	products, err := h.catalog.ListBySeller(c.Request.Context(), identity.UserID(c), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	if products == nil {
		products = []*Product{}
	}
	c.JSON(http.StatusOK, gin.H{"products": products, "count": len(products)})
}

func (h *Handler) delist(c *gin.Context) {
	err := h.catalog.Delist(c.Request.Context(), identity.UserID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "delisted"})
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrProductNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
	case errors.Is(err, ErrInvalidPrice):
		c.JSON(http.StatusBadRequest, gin.H{"error": "price must be positive"})
	case errors.Is(err, ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "not the product owner"})
	case errors.Is(err, ErrProductUnavailable):
		c.JSON(http.StatusConflict, gin.H{"error": "product unavailable"})
	default:
		logging.L(c.Request.Context()).Error("product request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
