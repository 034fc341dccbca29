package http

import "github.com/labstack/echo/v4"

// Handler is implemented by the status API to register its routes
// (health, readiness, stream listing) on the shared Echo server.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}
