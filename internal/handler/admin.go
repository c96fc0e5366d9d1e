package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"subscription-cycle-sync/internal/dto"
	"subscription-cycle-sync/internal/service"

	"github.com/labstack/echo/v4"
)

const defaultRunsLimit = 20

type AdminHandler struct {
	syncService service.SyncService
	logger      *slog.Logger
}

func NewAdminHandler(syncService service.SyncService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		syncService: syncService,
		logger:      logger,
	}
}

// SyncSubscriptions runs one batch sync and reports the outcome.
func (h *AdminHandler) SyncSubscriptions(c echo.Context) error {
	ctx := c.Request().Context()

	result, err := h.syncService.Run(ctx, service.TriggerAdmin)
	if err != nil {
		h.logger.Error("Sync error", "error", err)

		status := http.StatusInternalServerError
		switch {
		case service.IsConflict(err):
			status = http.StatusConflict
		case service.IsNoSession(err):
			status = http.StatusUnauthorized
		}
		return c.JSON(status, &dto.ErrorResponse{
			Success: false,
			Error:   err.Error(),
		})
	}

	return c.JSON(http.StatusOK, result)
}

func (h *AdminHandler) MethodNotAllowed(c echo.Context) error {
	return c.JSON(http.StatusMethodNotAllowed, map[string]string{
		"message": "Method not allowed",
	})
}

func (h *AdminHandler) ListRuns(c echo.Context) error {
	ctx := c.Request().Context()

	limit := defaultRunsLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}

	runs, err := h.syncService.ListRuns(ctx, limit)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, runs)
}
