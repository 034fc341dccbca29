// Package statusapi is the read-only operational HTTP surface of spec.md
// §2 ("not a query interface over bar contents"): health, readiness, and a
// per-stream progress listing sourced from the manifest store. Routes are
// registered on the teacher's shared Echo server (pkg/http), following the
// same xhttp.Handler contract as the teacher's internal/handler/api package.
package statusapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"assetsync/internal/domain/errs"
	"assetsync/internal/domain/repository"
	xhttp "assetsync/pkg/http"
)

// Handler exposes manifest progress over HTTP for operators.
type Handler struct {
	Store repository.ManifestStore
}

func New(store repository.ManifestStore) *Handler {
	return &Handler{Store: store}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.health)
	e.GET("/readyz", h.ready)
	e.GET("/streams", h.listStreams)
	e.GET("/streams/:id", h.getStream)
}

func (h *Handler) health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

func (h *Handler) ready(c echo.Context) error {
	if _, err := h.Store.ListStreams(c.Request().Context()); err != nil {
		return xhttp.AppErrorResponse(c, xhttp.StoreUnavailableError(err))
	}
	return xhttp.SuccessResponse(c, map[string]string{"status": "ready"})
}

// streamSummary is the read-only view surfaced over HTTP — deliberately
// narrower than model.ManifestEntry (no coverage bytes, no gap detail).
type streamSummary struct {
	ID         int64   `json:"id"`
	Symbol     string  `json:"symbol"`
	Provider   string  `json:"provider"`
	AssetClass string  `json:"asset_class"`
	Timeframe  string  `json:"timeframe"`
	Watermark  *string `json:"watermark,omitempty"`
	LastError  string  `json:"last_error,omitempty"`
}

func (h *Handler) listStreams(c echo.Context) error {
	entries, err := h.Store.ListStreams(c.Request().Context())
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("list streams: %v", err))
	}
	out := make([]streamSummary, 0, len(entries))
	for _, m := range entries {
		s := streamSummary{
			ID:         m.ID,
			Symbol:     m.Key.Symbol,
			Provider:   string(m.Key.Provider),
			AssetClass: string(m.Key.AssetClass),
			Timeframe:  m.Key.Timeframe.String(),
			LastError:  m.LastError,
		}
		if m.Watermark != nil {
			w := m.Watermark.Format(http.TimeFormat)
			s.Watermark = &w
		}
		out = append(out, s)
	}
	return xhttp.ListResponse(c, out, int64(len(out)))
}

func (h *Handler) getStream(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("id must be an integer"))
	}
	snap, err := h.Store.GetStream(c.Request().Context(), id)
	if err != nil {
		if err == errs.ErrNotFound {
			return xhttp.AppErrorResponse(c, xhttp.StreamNotFoundError(id))
		}
		return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("get stream: %v", err))
	}
	return xhttp.SuccessResponse(c, snap.Manifest)
}
