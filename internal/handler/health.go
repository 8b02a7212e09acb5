package handler // HTTP handlers for the station-facing ticket API

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Health is a simple liveness endpoint used by monitoring to verify
// that the service is running. It deliberately touches no storage.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}
