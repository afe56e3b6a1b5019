package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"StockPulse/internal/domain/models"
	drepo "StockPulse/internal/domain/repository"
	"StockPulse/internal/usecase"
	xhttp "StockPulse/pkg/http"
	xlogger "StockPulse/pkg/logger"
	"StockPulse/pkg/util"
)

const watchInterval = time.Second

// TasksEchoHandler exposes the orchestration API over Echo.
type TasksEchoHandler struct {
	logger      *xlogger.Logger
	coordinator *usecase.Coordinator
	archive     drepo.OHLCVArchive
	upgrader    websocket.Upgrader
}

// NewTasksEchoHandler creates the handler. archive may be nil when the
// candle archive is disabled; the history endpoint then returns 404.
func NewTasksEchoHandler(logger *xlogger.Logger, coordinator *usecase.Coordinator, archive drepo.OHLCVArchive) *TasksEchoHandler {
	return &TasksEchoHandler{
		logger:      logger,
		coordinator: coordinator,
		archive:     archive,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *TasksEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/analyze", h.Analyze)
	e.GET("/tasks/:id", h.Poll)
	e.GET("/tasks/:id/watch", h.Watch)
	e.GET("/marketdata/:symbol/history", h.History)
	e.GET("/healthz", h.Health)
}

// Analyze accepts a new analysis request and returns its task id.
func (h *TasksEchoHandler) Analyze(c echo.Context) error {
	req := &models.AnalyzeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	kinds := make([]models.AnalysisKind, 0, len(req.Analyses))
	for _, a := range req.Analyses {
		kinds = append(kinds, models.AnalysisKind(a))
	}

	task, err := h.coordinator.Submit(c.Request().Context(), usecase.SubmitRequest{
		Symbol:            req.Symbol,
		Kinds:             kinds,
		ForecastTimeframe: models.ForecastTimeframe(req.ForecastTimeframe),
	})
	if err != nil {
		if errors.Is(err, models.ErrInvalidRequest) {
			return xhttp.BadRequestResponse(c, err.Error())
		}
		h.logger.Error("submit error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("submit failed"))
	}

	return xhttp.CreatedResponse(c, map[string]string{"task_id": task.ID})
}

// Poll returns the merged status document for one task.
func (h *TasksEchoHandler) Poll(c echo.Context) error {
	doc, err := h.coordinator.Poll(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return xhttp.NotFoundResponse(c, "task not found")
		}
		h.logger.Error("poll error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("poll failed"))
	}
	return xhttp.SuccessResponse(c, doc)
}

// Watch streams status snapshots over a websocket until every sub-task is
// terminal, then closes.
func (h *TasksEchoHandler) Watch(c echo.Context) error {
	taskID := c.Param("id")
	ctx := c.Request().Context()

	// Reject unknown tasks before upgrading.
	doc, err := h.coordinator.Poll(ctx, taskID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return xhttp.NotFoundResponse(c, "task not found")
		}
		return xhttp.AppErrorResponse(c, xhttp.InternalError("poll failed"))
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		if err := conn.WriteJSON(doc); err != nil {
			return nil
		}
		if statusDone(doc) {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "task finished")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		doc, err = h.coordinator.Poll(ctx, taskID)
		if err != nil {
			// Expired mid-watch; tell the client and stop.
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "task expired")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return nil
		}
	}
}

// statusDone reports whether no further status change is possible.
func statusDone(doc *models.TaskStatusDoc) bool {
	for _, v := range doc.Results {
		if !v.State.Terminal() {
			return false
		}
	}
	return true
}

// History serves archived candles for a symbol.
func (h *TasksEchoHandler) History(c echo.Context) error {
	if h.archive == nil {
		return xhttp.NotFoundResponse(c, "candle archive disabled")
	}

	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		return xhttp.BadRequestResponse(c, "symbol is required")
	}

	from := util.ParseTimeDefault(req.From, time.Time{})
	to := util.ParseTimeDefault(req.To, time.Now().UTC())

	candles, err := h.archive.Query(c.Request().Context(), symbol, from, to, req.Limit)
	if err != nil {
		h.logger.Error("history query error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("history query failed"))
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"symbol":  symbol,
		"candles": candles,
	})
}

// Health reports dependency health.
func (h *TasksEchoHandler) Health(c echo.Context) error {
	status := map[string]string{"status": "ok"}
	if h.archive != nil {
		if err := h.archive.Health(c.Request().Context()); err != nil {
			status["status"] = "degraded"
			status["clickhouse"] = err.Error()
			return xhttp.DataResponse(c, http.StatusServiceUnavailable, status)
		}
		status["clickhouse"] = "ok"
	}
	return xhttp.SuccessResponse(c, status)
}

var _ xhttp.Handler = (*TasksEchoHandler)(nil)
