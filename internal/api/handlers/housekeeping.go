// Package handlers contains the HTTP handlers mounted under the
// housekeeping base path. Authorization is applied by core.HousekeepingGate
// before any handler here runs.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"pollkeeper/internal/core"
	"pollkeeper/internal/scheduler"
	"pollkeeper/internal/types"
)

// TriggerSource marks runs started over HTTP in logs and error reports.
const TriggerSource = "http"

// HousekeepingRunner is the part of scheduler.Runner the handler needs.
type HousekeepingRunner interface {
	Run(ctx context.Context, task scheduler.TaskType, now time.Time) (scheduler.Summary, error)
	RunAll(ctx context.Context, now time.Time) (scheduler.RunSummary, error)
}

// StepResponse is the body of a successful single-step trigger.
type StepResponse struct {
	Success bool              `json:"success"`
	Summary scheduler.Summary `json:"summary"`
}

// RunAllResponse is the body of the run-all trigger. Errors lists the steps
// that failed; the others still report their summaries.
type RunAllResponse struct {
	Success bool                                     `json:"success"`
	Summary map[scheduler.TaskType]scheduler.Summary `json:"summary"`
	Errors  map[scheduler.TaskType]string            `json:"errors,omitempty"`
}

// HousekeepingHandler maps trigger routes to housekeeping steps.
type HousekeepingHandler struct {
	runner HousekeepingRunner
	logger *slog.Logger
	now    func() time.Time
}

// NewHousekeepingHandler creates a handler over runner.
func NewHousekeepingHandler(runner HousekeepingRunner, logger *slog.Logger) *HousekeepingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HousekeepingHandler{
		runner: runner,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RegisterRoutes mounts one GET and one POST route per step plus run-all.
// Both verbs are accepted because schedulers differ in which one they send.
func (h *HousekeepingHandler) RegisterRoutes(r chi.Router) {
	for _, task := range scheduler.AllTasks {
		path := "/" + task.JobName()
		handler := h.HandleStep(task)
		r.Get(path, handler)
		r.Post(path, handler)
	}
	runAll := "/" + scheduler.TaskRunAll.JobName()
	r.Get(runAll, h.HandleRunAll)
	r.Post(runAll, h.HandleRunAll)
}

// HandleStep returns the handler for a single step. A step error is written
// through core.Error, so a database failure answers 500 with the error
// envelope and no summary.
func (h *HousekeepingHandler) HandleStep(task scheduler.TaskType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := h.runContext(r, task)

		summary, err := h.runner.Run(ctx, task, h.now())
		if err != nil {
			core.Error(w, r, err)
			return
		}

		core.JSON(w, r, http.StatusOK, StepResponse{Success: true, Summary: summary})
	}
}

// HandleRunAll runs every step in order. It answers 200 when all steps
// succeed and 500 when any failed; in both cases the body carries the
// summaries of the steps that completed.
func (h *HousekeepingHandler) HandleRunAll(w http.ResponseWriter, r *http.Request) {
	ctx := h.runContext(r, scheduler.TaskRunAll)

	result, err := h.runner.RunAll(ctx, h.now())
	resp := RunAllResponse{
		Success: err == nil,
		Summary: result.Summaries,
		Errors:  result.Errors,
	}
	if resp.Summary == nil {
		resp.Summary = map[scheduler.TaskType]scheduler.Summary{}
	}

	if err != nil {
		h.logger.ErrorContext(ctx, "run-all finished with errors",
			"failed_steps", len(result.Errors),
			"error", err,
		)
		core.JSON(w, r, http.StatusInternalServerError, resp)
		return
	}
	core.JSON(w, r, http.StatusOK, resp)
}

func (h *HousekeepingHandler) runContext(r *http.Request, task scheduler.TaskType) context.Context {
	ctx := types.WithTrigger(r.Context(), TriggerSource)
	logger := h.logger.With(
		"job", task.JobName(),
		"request_id", types.GetRequestID(ctx),
	)
	return types.WithLogger(ctx, logger)
}
