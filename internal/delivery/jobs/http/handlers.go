package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"taskbench/evaluation/plugins"
	"taskbench/internal/app/jobs"
	"taskbench/internal/sandbox"
	errs "taskbench/internal/shared/errors"
	"taskbench/internal/shared/logging"
	"taskbench/internal/task"
)

type handler struct {
	runner   *jobs.Runner
	sandbox  sandbox.Executor
	catalog  jobs.Catalog
	logger   logging.Logger
	upgrader websocket.Upgrader
	started  time.Time
}

// SubmitRequest is the body of /task/reset, /task/eval and /task/cleanup.
type SubmitRequest struct {
	TaskConfig *task.Task `json:"task_config"`
	// Trajectory is only read by /task/eval.
	Trajectory []any `json:"trajectory,omitempty"`
}

// ConfirmRequest is the body of /task/confirm.
type ConfirmRequest struct {
	Message string `json:"message"`
}

// ExecuteRequest is the body of /runtime/execute.
type ExecuteRequest struct {
	Code string `json:"code"`
}

// PluginsResponse lists the discovered plugins.
type PluginsResponse struct {
	Plugins  []plugins.Entry     `json:"plugins"`
	Rejected []plugins.Rejection `json:"rejected,omitempty"`
}

func (h *handler) submit(kind jobs.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SubmitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			h.fail(c, errs.NewConfigError(err, "invalid request body"))
			return
		}
		job := jobs.Request{Kind: kind, Task: req.TaskConfig}
		if kind == jobs.KindEval && req.Trajectory != nil {
			job.EvalContext = map[string]any{"trajectory": req.Trajectory}
		}
		resp, err := h.runner.Submit(c.Request.Context(), job)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func (h *handler) confirm(c *gin.Context) {
	var req ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errs.NewConfigError(err, "invalid request body"))
		return
	}
	resp, err := h.runner.Confirm(c.Request.Context(), req.Message)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) state(c *gin.Context) {
	c.JSON(http.StatusOK, h.runner.State())
}

func (h *handler) runtimeReset(c *gin.Context) {
	if h.sandbox == nil {
		c.JSON(http.StatusOK, gin.H{"status": jobs.ResultSuccess})
		return
	}
	if err := h.sandbox.Reset(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": jobs.ResultSuccess})
}

func (h *handler) runtimeExecute(c *gin.Context) {
	if h.sandbox == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, errorResponse{Status: jobs.ResultError, Message: "no sandbox configured"})
		return
	}
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errs.NewConfigError(err, "invalid request body"))
		return
	}
	res, err := h.sandbox.Execute(c.Request.Context(), req.Code)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) plugins(c *gin.Context) {
	if h.catalog == nil || h.catalog.Current() == nil {
		c.JSON(http.StatusOK, PluginsResponse{Plugins: []plugins.Entry{}})
		return
	}
	cat := h.catalog.Current()
	c.JSON(http.StatusOK, PluginsResponse{Plugins: cat.Entries(), Rejected: cat.Rejected()})
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"state":  h.runner.State().State,
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}
