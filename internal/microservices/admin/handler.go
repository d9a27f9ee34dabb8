package admin

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"pkthub/internal/microservices/tcp"

	"github.com/gin-gonic/gin"
)

// ClientView is one live connection as reported by /clients.
type ClientView struct {
	tcp.ClientInfo
	PendingRequests int `json:"pending_requests"`
}

// Broadcaster sends a notice to every connected client.
type Broadcaster interface {
	Broadcast(ctx context.Context, message string) int
}

type NoticeRequest struct {
	Message string `json:"message" binding:"required,max=1024"`
}

type Handler struct {
	registry    *tcp.ClientRegistry
	dispatcher  *tcp.Dispatcher
	sessions    tcp.SessionStore
	broadcaster Broadcaster
	logger      *slog.Logger
	startedAt   time.Time
}

// NewHandler exposes server state. sessions may be nil when presence is
// disabled, broadcaster when notices are not offered.
func NewHandler(registry *tcp.ClientRegistry, dispatcher *tcp.Dispatcher, sessions tcp.SessionStore, broadcaster Broadcaster, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry:    registry,
		dispatcher:  dispatcher,
		sessions:    sessions,
		broadcaster: broadcaster,
		logger:      logger,
		startedAt:   time.Now(),
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"clients":        h.registry.Count(),
		"pending":        h.dispatcher.TotalPending(),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}

func (h *Handler) ListClients(c *gin.Context) {
	snapshot := h.registry.Snapshot()
	views := make([]ClientView, 0, len(snapshot))
	for _, info := range snapshot {
		views = append(views, ClientView{
			ClientInfo:      info,
			PendingRequests: h.dispatcher.PendingCount(info.Address),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(views),
		"clients": views,
	})
}

func (h *Handler) ListSessions(c *gin.Context) {
	if h.sessions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence store disabled"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	sessions, err := h.sessions.List(ctx)
	if err != nil {
		h.logger.Error("session_list_failed", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

func (h *Handler) PostNotice(c *gin.Context) {
	if h.broadcaster == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "notices disabled"})
		return
	}

	var req NoticeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sent := h.broadcaster.Broadcast(c.Request.Context(), req.Message)
	attrs := []any{"sent", sent}
	if user := CurrentUser(c); user != nil {
		attrs = append(attrs, "by", user.Username)
	}
	h.logger.Info("admin_notice_sent", attrs...)

	c.JSON(http.StatusAccepted, gin.H{"sent": sent})
}
