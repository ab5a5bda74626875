package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"selene.app/actioncore/internal/model"
	"selene.app/actioncore/internal/store"
)

// respondError maps domain sentinels onto status codes. Only 4xx responses
// carry the error text; 5xx details stay in the log.
func respondError(c *gin.Context, err error, op string) {
	ctx := c.Request.Context()
	_ = c.Error(err)

	var status int
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrConflict),
		errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrPlanClosed),
		errors.Is(err, model.ErrNotCancellable):
		status = http.StatusConflict
	case errors.Is(err, model.ErrReplayIntegrity):
		status = http.StatusUnprocessableEntity
	default:
		slog.ErrorContext(ctx, op+" failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
		return
	}

	slog.WarnContext(ctx, op+" rejected", "error", err, "status", status)
	c.JSON(status, gin.H{"error": err.Error()})
}
