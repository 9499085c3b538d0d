package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cloud-on-prem/goose/internal/common/config"
	"github.com/cloud-on-prem/goose/internal/common/logger"
	"github.com/cloud-on-prem/goose/internal/events/bus"
	"github.com/cloud-on-prem/goose/pkg/webview"
)

// Gateway bundles the hub, its dispatcher and the upgrade handler.
type Gateway struct {
	Hub        *Hub
	Dispatcher *webview.Dispatcher
	Handler    *Handler
	logger     *logger.Logger
}

// NewGateway creates a gateway with an empty dispatcher.
func NewGateway(cfg config.GatewayConfig, log *logger.Logger) *Gateway {
	dispatcher := webview.NewDispatcher()
	hub := NewHub(dispatcher, log)
	return &Gateway{
		Hub:        hub,
		Dispatcher: dispatcher,
		Handler:    NewHandler(hub, cfg.AllowedOrigins, log),
		logger:     log,
	}
}

// SetupRoutes adds the WebSocket and health routes to the router.
func (g *Gateway) SetupRoutes(router *gin.Engine) {
	router.GET("/ws", g.Handler.HandleConnection)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "goose-bridge",
			"clients": g.Hub.ClientCount(),
		})
	})
}

// SetupEventTap exposes the events mirrored to b at GET /events.
func (g *Gateway) SetupEventTap(router *gin.Engine, b bus.EventBus, prefix string) *EventTap {
	tap := NewEventTap(b, prefix, g.logger)
	router.GET("/events", tap.Serve)
	return tap
}
