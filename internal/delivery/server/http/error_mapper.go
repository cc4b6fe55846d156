package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"smartsched/internal/domain/negotiation"
)

// mapDomainError translates a service error into a status code and a
// user-facing message. Unknown errors map to 500.
func mapDomainError(err error) (status int, message string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, negotiation.ErrInvalidSessionID):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, negotiation.ErrSessionNotFound):
		return http.StatusNotFound, "Session not found"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Turn timed out"
	case errors.Is(err, context.Canceled):
		return 499, "Request cancelled"
	case errors.Is(err, negotiation.ErrCalendarUnavailable):
		return http.StatusServiceUnavailable, "Calendar unavailable"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	status, msg := mapDomainError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, APIResponse{Success: false, Error: msg})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, APIResponse{Success: false, Error: msg})
}
