package handlers

import (
	"errors"
	"uptune/internal/services"

	"github.com/gin-gonic/gin"
)

// JSONError writes a failure body with a machine-readable error code
func JSONError(c *gin.Context, code int, errCode string) {
	c.JSON(code, gin.H{"success": false, "error": errCode})
}

// JSONValidationError writes a 400 with field-level detail
func JSONValidationError(c *gin.Context, ve *services.ValidationError) {
	c.JSON(400, gin.H{
		"success": false,
		"error":   "validation_failed",
		"fields":  ve.Fields,
	})
}

// asValidationError unwraps a service error into a ValidationError, if it is one
func asValidationError(err error) (*services.ValidationError, bool) {
	var ve *services.ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
