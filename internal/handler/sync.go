package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/radelqui/tito-ledger/internal/ledger"
	"github.com/radelqui/tito-ledger/internal/remote"
	"github.com/radelqui/tito-ledger/internal/syncer"
)

// SyncHandler exposes manual control and visibility over the push
// engine. The background loop keeps running regardless; RunNow shares
// its single-flight lock.
type SyncHandler struct {
	Engine *syncer.Engine
	Store  *ledger.Store
	Remote *remote.Store
}

func NewSyncHandler(engine *syncer.Engine, store *ledger.Store, rm *remote.Store) *SyncHandler {
	return &SyncHandler{Engine: engine, Store: store, Remote: rm}
}

// RunNow performs one synchronous sync pass and returns its report,
// including any per-batch failures.
func (h *SyncHandler) RunNow(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 60*time.Second)
	defer cancel()

	report, err := h.Engine.SyncOnce(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, report)
}

// Status reports remote reachability and the local backlog size.
func (h *SyncHandler) Status(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	pending, err := h.Store.CountUnsynced(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "backlog count failed"})
	}

	available := h.Remote.Available()
	if available {
		pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
		if err := h.Remote.Ping(pingCtx); err != nil {
			available = false
		}
		pingCancel()
	}
	return c.JSON(http.StatusOK, echo.Map{
		"remote_available": available,
		"pending":          pending,
	})
}
