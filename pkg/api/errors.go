package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pipeforge/runcore/pkg/orcherr"
	"github.com/pipeforge/runcore/pkg/runstore"
)

// writeServiceError maps an orcherr-taxonomy error (or a runstore lookup
// miss) to an HTTP status and writes it as the response body.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, runstore.ErrRunNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, orcherr.ErrIllegalTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, orcherr.ErrPolicy):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, orcherr.ErrSchema):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, orcherr.ErrFatal), errors.Is(err, orcherr.ErrTransient):
		slog.Error("run operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	default:
		slog.Error("unexpected run operation error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
