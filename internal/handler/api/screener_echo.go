package api

import (
	"context"
	"errors"

	"MarketScreener/internal/domain/models"
	"MarketScreener/internal/usecase"
	xhttp "MarketScreener/pkg/http"
	xlogger "MarketScreener/pkg/logger"

	"github.com/labstack/echo/v4"
)

// ScreenerEchoHandler exposes screening runs and run statistics over HTTP.
type ScreenerEchoHandler struct {
	logger   *xlogger.Logger
	screener *usecase.Screener
	universe []models.Symbol
}

func NewScreenerEchoHandler(logger *xlogger.Logger, screener *usecase.Screener, universe []models.Symbol) *ScreenerEchoHandler {
	return &ScreenerEchoHandler{logger: logger, screener: screener, universe: universe}
}

func (h *ScreenerEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	g := e.Group("/api")
	g.POST("/screen", h.Screen)
	g.GET("/stats", h.Stats)
}

// Screen runs one screening pass synchronously. An explicit symbol list
// overrides the configured universe for this run only.
func (h *ScreenerEchoHandler) Screen(c echo.Context) error {
	req := &models.ScreenRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	universe := h.universe
	if len(req.Symbols) > 0 {
		universe = make([]models.Symbol, 0, len(req.Symbols))
		for _, s := range req.Symbols {
			universe = append(universe, models.Symbol(s))
		}
	}

	selected, stats, err := h.screener.Run(c.Request().Context(), universe)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return xhttp.AppErrorResponse(c, xhttp.UnavailableError("screening run interrupted").WithError(err))
		}
		h.logger.Error("screening run failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}

	h.logger.Info("screening run complete",
		xlogger.Int("universe", stats.UniverseSize),
		xlogger.Int("selected", stats.SelectedCount),
		xlogger.Duration("elapsed_ms", stats.Elapsed),
	)
	return xhttp.SuccessResponse(c, &models.ScreenResponse{Selected: selected, Stats: stats})
}

// Stats returns the most recent completed run's statistics.
func (h *ScreenerEchoHandler) Stats(c echo.Context) error {
	_, stats, ok := h.screener.Last()
	if !ok {
		return xhttp.NotFoundResponse(c, "no completed run yet")
	}
	return xhttp.SuccessResponse(c, stats)
}

// Health reports process liveness.
func (h *ScreenerEchoHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}
