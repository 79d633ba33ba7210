package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"taskbench/internal/app/jobs"
	errs "taskbench/internal/shared/errors"
)

// statusClientClosedRequest is reported when the caller went away before the
// job reached a reportable state.
const statusClientClosedRequest = 499

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// mapError translates a runner or sandbox error into an HTTP status.
func mapError(err error) int {
	switch {
	case errors.Is(err, jobs.ErrNoPendingInput):
		return http.StatusConflict
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	switch errs.Classify(err) {
	case errs.KindConfig:
		return http.StatusBadRequest
	case errs.KindCancelled:
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) fail(c *gin.Context, err error) {
	status := mapError(err)
	if status >= 500 {
		h.logger.Error("%s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(status, errorResponse{Status: jobs.ResultError, Message: err.Error()})
}
