package notify

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/echezona/sokopay/internal/identity"
	"github.com/echezona/sokopay/internal/logging"
)

// Handler exposes the notification inbox over HTTP.
type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes mounts inbox routes. All require auth.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/notifications", h.list)
	r.POST("/notifications/:id/read", h.markRead)
}

func (h *Handler) list(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	ns, err := h.store.ListByUser(c.Request.Context(), identity.UserID(c), limit)
	if err != nil {
		logging.L(c.Request.Context()).Error("list notifications failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if ns == nil {
		ns = []*Notification{}
	}
	c.JSON(http.StatusOK, gin.H{"notifications": ns, "count": len(ns)})
}

func (h *Handler) markRead(c *gin.Context) {
	err := h.store.MarkRead(c.Request.Context(), identity.UserID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotificationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
			return
		}
		logging.L(c.Request.Context()).Error("mark notification read failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "read"})
}
