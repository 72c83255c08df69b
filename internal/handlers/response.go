package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lijuuu/ContestLivescoreService/internal/service"
)

// WriteJSONResponse writes a JSON response
func WriteJSONResponse(c *gin.Context, data any, status int) {
	c.JSON(status, gin.H{
		"status": "success",
		"data":   data,
	})
}

// WriteJSONError writes a JSON error response
func WriteJSONError(c *gin.Context, message string, status int) {
	c.AbortWithStatusJSON(status, gin.H{
		"status": "error",
		"error":  message,
	})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrMalformedSnapshot):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrContestNotFound), errors.Is(err, service.ErrStationNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
