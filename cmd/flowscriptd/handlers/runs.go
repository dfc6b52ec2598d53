// Package handlers is the thin HTTP/WebSocket translation layer on top of
// the execution manager's Go API. It contains no engine logic of its own,
// only request/response translation and error-kind-to-status mapping.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/flowscript/common/logger"
	"github.com/lyzr/flowscript/internal/flowerrors"
	"github.com/lyzr/flowscript/internal/manager"
)

// Handlers wires HTTP endpoints to the execution manager.
type Handlers struct {
	manager *manager.Manager
	log     *logger.Logger
}

// New builds a Handlers.
func New(mgr *manager.Manager, log *logger.Logger) *Handlers {
	return &Handlers{manager: mgr, log: log}
}

// RegisterRoutes installs every flowscriptd endpoint on e.
func (h *Handlers) RegisterRoutes(e *echo.Echo) {
	e.POST("/runs", h.SubmitRun)
	e.GET("/runs", h.ListRuns)
	e.GET("/runs/:id", h.GetRun)
	e.POST("/runs/:id/resume", h.ResumeRun)
	e.POST("/runs/:id/cancel", h.CancelRun)
	e.GET("/runs/:id/events", h.StreamEvents)
}

// submitRequest is the body of POST /runs: a workflow IR document plus
// optional initial input that's merged over the IR's own initialState.
type submitRequest struct {
	Workflow json.RawMessage        `json:"workflow"`
	Input    map[string]interface{} `json:"input"`
}

// SubmitRun validates and starts a new execution.
func (h *Handlers) SubmitRun(c echo.Context) error {
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Workflow) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "workflow is required")
	}

	executionID, err := h.manager.Submit(req.Workflow, req.Input)
	if err != nil {
		return httpError(err)
	}

	h.log.Info("run submitted", "executionId", executionID)
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"executionId": executionID,
	})
}

// GetRun returns the current status of one execution.
func (h *Handlers) GetRun(c echo.Context) error {
	status, err := h.manager.Status(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, status)
}

// ListRuns returns every execution currently tracked.
func (h *Handlers) ListRuns(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"runs": h.manager.List(),
	})
}

// resumeRequest is the body of POST /runs/:id/resume.
type resumeRequest struct {
	TokenID string      `json:"tokenId"`
	Data    interface{} `json:"data"`
}

// ResumeRun settles an outstanding pause token with the supplied data.
func (h *Handlers) ResumeRun(c echo.Context) error {
	var req resumeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.TokenID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tokenId is required")
	}

	if err := h.manager.Resume(c.Param("id"), req.TokenID, req.Data); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// CancelRun requests cancellation of a running execution.
func (h *Handlers) CancelRun(c echo.Context) error {
	if err := h.manager.Cancel(c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// httpError maps the engine's structured error taxonomy onto HTTP statuses.
func httpError(err error) error {
	switch flowerrors.KindOf(err) {
	case flowerrors.KindSchemaInvalid:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case flowerrors.KindUnknownExecution, flowerrors.KindUnknownPauseToken:
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case flowerrors.KindNotPaused, flowerrors.KindTokenSettled:
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
