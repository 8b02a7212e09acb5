package router

import (
	"github.com/labstack/echo/v4"

	"github.com/radelqui/tito-ledger/internal/handler"
	"github.com/radelqui/tito-ledger/internal/middleware"
	"github.com/radelqui/tito-ledger/internal/model"
)

// RegisterRoutes wires the full HTTP surface. Only the health check
// and login are unauthenticated; everything else sits behind JWTAuth
// with per-route role checks matching the floor layout: MESA issues,
// CAJA redeems and reads stats, ADMIN does everything.
func RegisterRoutes(e *echo.Echo, a *handler.AuthHandler, t *handler.TicketHandler, s *handler.SyncHandler, jwtSecret string) {
	e.GET("/healthz", handler.Health)
	e.POST("/v1/auth/login", a.Login)

	v1 := e.Group("/v1")
	v1.Use(middleware.JWTAuth(jwtSecret))

	v1.GET("/auth/me", a.Me)
	v1.POST("/operators", a.CreateOperator, middleware.RequireRole(model.RoleAdmin))

	v1.POST("/tickets", t.Issue, middleware.RequireRole(model.RoleMesa, model.RoleAdmin))
	v1.GET("/tickets/:number", t.Lookup)
	v1.POST("/tickets/validate", t.Validate)
	v1.POST("/tickets/redeem", t.Redeem, middleware.RequireRole(model.RoleCaja, model.RoleAdmin))
	v1.POST("/tickets/:number/void", t.Void, middleware.RequireRole(model.RoleAdmin))

	v1.GET("/stats", t.Stats, middleware.RequireRole(model.RoleCaja, model.RoleAdmin))
	v1.GET("/audit", t.Audit, middleware.RequireRole(model.RoleAdmin))

	v1.POST("/sync", s.RunNow, middleware.RequireRole(model.RoleAdmin))
	v1.GET("/sync/status", s.Status, middleware.RequireRole(model.RoleAdmin))
	v1.GET("/remote/tickets", t.RemoteList, middleware.RequireRole(model.RoleAdmin))
}
