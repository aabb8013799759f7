package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/medialib/curator/pkg/store"
)

// renderError maps store-layer errors to HTTP error responses.
func renderError(c *gin.Context, err error) {
	var validErr *store.ValidationError
	switch {
	case errors.As(err, &validErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validErr.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
	case errors.Is(err, store.ErrPlanApplied):
		c.JSON(http.StatusConflict, gin.H{"error": "plan already applied"})
	case errors.Is(err, store.ErrChangeApplied):
		c.JSON(http.StatusConflict, gin.H{"error": "change already applied"})
	case errors.Is(err, store.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
