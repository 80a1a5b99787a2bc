package http

import (
	"errors"
	"io/fs"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/dlmodule"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/shared/utils"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/source"
)

// statusFor maps loader and manager errors onto HTTP statuses.
func statusFor(err error) int {
	var verr *utils.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, source.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, source.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
		return http.StatusServiceUnavailable
	case errors.Is(err, dlmodule.ErrFormat), errors.Is(err, dlmodule.ErrRelocation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, dlmodule.ErrBusy), errors.Is(err, dlmodule.ErrState):
		return http.StatusConflict
	case errors.Is(err, dlmodule.ErrResource):
		return http.StatusInsufficientStorage
	case errors.Is(err, dlmodule.ErrIO):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	status := statusFor(err)
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": err.Error()})
}
