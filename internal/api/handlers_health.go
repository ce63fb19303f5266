// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/docintake/backend/internal/upload"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version string
	manager *upload.Manager
}

// NewHealthHandler creates a new health handler. manager may be nil.
func NewHealthHandler(version string, manager *upload.Manager) HealthHandler {
	return &HealthHandlerImpl{
		version: version,
		manager: manager,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	resp := map[string]interface{}{
		"status":  "ok",
		"version": h.version,
	}
	if h.manager != nil {
		resp["sessions"] = h.manager.Count()
		resp["previews"] = h.manager.Previews().Stats()
	}
	return c.JSON(http.StatusOK, resp)
}
