package identity

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/echezona/sokopay/internal/logging"
	"github.com/echezona/sokopay/internal/validation"
)

// Handler exposes account endpoints over HTTP.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterPublicRoutes mounts the unauthenticated routes.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.POST("/signup", h.signup)
	r.POST("/login", h.login)
}

// RegisterRoutes mounts authenticated account routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/me", h.me)
	r.POST("/me/request-seller", h.requestSeller)
}

// RegisterAdminRoutes mounts admin-only account routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/users", h.listUsers)
	r.POST("/users/:id/approve-seller", h.approveSeller)
	r.POST("/users/:id/ban", h.setBanned(true))
	r.POST("/users/:id/unban", h.setBanned(false))
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (h *Handler) signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := validation.Validate(
		validation.Required("email", req.Email),
		validation.ValidEmail("email", req.Email),
		validation.Required("password", req.Password),
		validation.MaxLength("name", req.Name, 120),
	); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	u, err := h.svc.Signup(c.Request.Context(), req.Email, req.Password, validation.SanitizeString(req.Name, 120))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	u, token, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": u})
}

func (h *Handler) me(c *gin.Context) {
	u := CurrentUser(c)
	if u == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) requestSeller(c *gin.Context) {
	u, err := h.svc.RequestSellerUpgrade(c.Request.Context(), UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) listUsers(c *gin.Context) {
	users, err := h.svc.List(c.Request.Context(), 100)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}

func (h *Handler) approveSeller(c *gin.Context) {
	u, err := h.svc.ApproveSeller(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) setBanned(banned bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := h.svc.SetBanned(c.Request.Context(), c.Param("id"), banned)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, u)
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	case errors.Is(err, ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
	case errors.Is(err, ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
	case errors.Is(err, ErrBanned):
		c.JSON(http.StatusForbidden, gin.H{"error": "account banned"})
	case errors.Is(err, ErrAlreadySeller), errors.Is(err, ErrUpgradeRequested):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logging.L(c.Request.Context()).Error("identity request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
