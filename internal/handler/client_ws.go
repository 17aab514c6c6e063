package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"vtuber-backend/internal/config"
	"vtuber-backend/internal/livechat"
	"vtuber-backend/internal/metrics"
	"vtuber-backend/internal/service"
	"vtuber-backend/pkg/logger"
)

// WebSocketHandler upgrades front-end connections and runs a session on
// each one.
type WebSocketHandler struct {
	registry *service.Registry
	config   *config.Config
	basePath string
	catalog  *config.Catalog
	engines  service.EngineFactory
	chat     livechat.Dialer
	metrics  *metrics.Metrics

	upgrader websocket.Upgrader
}

type WebSocketDeps struct {
	Registry *service.Registry
	Config   *config.Config
	BasePath string
	Catalog  *config.Catalog
	Engines  service.EngineFactory
	Chat     livechat.Dialer
	Metrics  *metrics.Metrics
}

func NewWebSocketHandler(deps WebSocketDeps) *WebSocketHandler {
	return &WebSocketHandler{
		registry: deps.Registry,
		config:   deps.Config,
		basePath: deps.BasePath,
		catalog:  deps.Catalog,
		engines:  deps.Engines,
		chat:     deps.Chat,
		metrics:  deps.Metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeWS handles GET /client-ws. The optional client_uid query parameter
// identifies the client across reconnects.
func (h *WebSocketHandler) ServeWS(c *gin.Context) {
	id := c.Query("client_uid")
	if id == "" {
		id = uuid.NewString()
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("WebSocket upgrade failed for %s: %v", id, err)
		return
	}
	if limit := h.config.System.Session.MaxMessageBytes; limit > 0 {
		conn.SetReadLimit(limit)
	}

	session, err := service.NewClientSession(service.SessionDeps{
		ID:              id,
		Conn:            conn,
		Registry:        h.registry,
		Config:          h.config,
		BasePath:        h.basePath,
		Catalog:         h.catalog,
		Engines:         h.engines,
		Chat:            h.chat,
		Metrics:         h.metrics,
		OnFeedReconnect: h.metrics.FeedReconnected,
	})
	if err != nil {
		logger.Errorf("Failed to create session %s: %v", id, err)
		conn.Close()
		return
	}

	if err := session.Run(c.Request.Context()); err != nil {
		logger.WithField("session", id).Infof("Session ended: %v", err)
	}
}
