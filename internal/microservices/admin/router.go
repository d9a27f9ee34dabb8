package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// NewRouter mounts the admin endpoints. /health and /metrics stay open;
// guards run in front of everything else. metrics is served only when
// non-nil.
func NewRouter(h *Handler, metrics http.Handler, guards ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", h.Health)
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	protected := r.Group("/", guards...)
	protected.GET("/clients", h.ListClients)
	protected.GET("/sessions", h.ListSessions)
	protected.POST("/notices", h.PostNotice)
	return r
}
