// Package http provides the HTTP server for the operator console.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/luocen99/opsconsole/internal/gateway"
	"github.com/luocen99/opsconsole/internal/service"
	v1 "github.com/luocen99/opsconsole/internal/transport/http/v1"
	"github.com/luocen99/opsconsole/internal/transport/ws"
)

// NewServer creates and configures the console HTTP server: the command
// gateway API, the conversation API and the console WebSocket endpoint.
func NewServer(gw *gateway.Service, console *service.Service, wsServer *ws.Server) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	v1Handler := v1.NewHandler(gw, console)
	v1Handler.RegisterRoutes(e)

	if wsServer != nil {
		e.GET("/ws", wsServer.HandleWebSocket)
	}

	return e
}
