// Package validation provides request guards shared by the HTTP handlers.
package validation

import (
	"net/http"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxIDLength bounds identifiers that end up in indexed columns.
const MaxIDLength = 255

// MaxStringLength is the maximum length for free-form string fields
const MaxStringLength = 10000

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs validators and collects their failures
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// Printable rejects control characters, which have no business in identifiers.
func Printable(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.IndexFunc(value, unicode.IsControl) >= 0 {
			return &ValidationError{Field: field, Message: "contains control characters"}
		}
		return nil
	}
}

// IDParamMiddleware rejects requests whose named URL parameters are not
// printable identifiers of at most MaxIDLength bytes.
func IDParamMiddleware(params ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var validators []func() *ValidationError
		for _, p := range params {
			v := c.Param(p)
			validators = append(validators, Required(p, v), MaxLength(p, v, MaxIDLength), Printable(p, v))
		}
		if errs := Validate(validators...); len(errs) > 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_parameter",
				"message": errs.Error(),
				"details": errs,
			})
			return
		}
		c.Next()
	}
}
