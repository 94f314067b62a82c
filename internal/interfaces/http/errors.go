package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	domainwf "github.com/garyjia/approval-core/internal/domain/workflow"
)

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, domainwf.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domainwf.ErrInvalidArgument), errors.Is(err, domainwf.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, domainwf.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail writes an error envelope. Internal errors are logged and not echoed.
func (h *Handlers) fail(c *gin.Context, err error, operation string) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "operation", operation, "path", c.Request.URL.Path, "error", err)
		message = "internal error"
	}

	c.JSON(status, Response{
		Success: false,
		Error:   message,
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error:   message,
	})
}
