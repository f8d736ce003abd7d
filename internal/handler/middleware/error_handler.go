package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/makkenzo/license-engine/internal/handler/dto"
	"github.com/makkenzo/license-engine/internal/ierr"
	"go.uber.org/zap"
)

func ErrorHandlerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("ErrorHandler")
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		log.Error("Request failed", zap.Error(err))

		status := http.StatusInternalServerError
		errResponse := dto.APIErrorResponse{
			Code:    "INTERNAL_ERROR",
			Message: "An unexpected error occurred.",
		}

		var ve validator.ValidationErrors

		if errors.As(err, &ve) {
			status = http.StatusBadRequest
			errResponse.Code = "VALIDATION_ERROR"
			errResponse.Message = "Input validation failed."
			errResponse.Details = buildValidationErrors(ve)
		} else {
			switch {
			case errors.Is(err, ierr.ErrValidation):
				status = http.StatusBadRequest
				errResponse.Code = "VALIDATION_ERROR"
				errResponse.Message = err.Error()
			case errors.Is(err, ierr.ErrDecoding):
				status = http.StatusBadRequest
				errResponse.Code = "MALFORMED_LICENSE"
				errResponse.Message = err.Error()
			case errors.Is(err, ierr.ErrAuthentication), errors.Is(err, ierr.ErrUntrusted):
				status = http.StatusUnprocessableEntity
				errResponse.Code = "LICENSE_REJECTED"
				errResponse.Message = err.Error()
			case errors.Is(err, ierr.ErrEncoding):
				status = http.StatusUnprocessableEntity
				errResponse.Code = "UNENCODABLE_LICENSE"
				errResponse.Message = err.Error()
			case errors.Is(err, ierr.ErrUnauthorized):
				status = http.StatusUnauthorized
				errResponse.Code = "UNAUTHENTICATED"
				errResponse.Message = "Authentication required or failed."
			case errors.Is(err, ierr.ErrForbidden), errors.Is(err, ierr.ErrInvalidAPIKey):
				status = http.StatusForbidden
				errResponse.Code = "FORBIDDEN"
				errResponse.Message = "Access denied."
			case errors.Is(err, ierr.ErrNoRecord):
				status = http.StatusNotFound
				errResponse.Code = "NO_RECORD"
				errResponse.Message = err.Error()
			case errors.Is(err, ierr.ErrNotFound):
				status = http.StatusNotFound
				errResponse.Code = "NOT_FOUND"
				errResponse.Message = "The requested resource was not found."
			case errors.Is(err, ierr.ErrConflict):
				status = http.StatusConflict
				errResponse.Code = "CONFLICT"
				errResponse.Message = err.Error()
			case errors.Is(err, ierr.ErrStoreFailed):
				status = http.StatusServiceUnavailable
				errResponse.Code = "STORE_UNAVAILABLE"
				errResponse.Message = err.Error()
			default:
				errResponse.Message = err.Error()
			}
		}

		errResponse.Status = status
		c.AbortWithStatusJSON(status, errResponse)
	}
}

func buildValidationErrors(ve validator.ValidationErrors) []dto.FieldError {
	details := make([]dto.FieldError, len(ve))
	for i, fe := range ve {
		details[i] = dto.FieldError{
			Field:   fieldPath(fe),
			Message: validationMessage(fe),
		}
	}
	return details
}

// fieldPath drops the request struct name so nested feature entries read as
// Features[0].Name.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func validationMessage(fe validator.FieldError) string {
	field := fieldPath(fe)
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("Field '%s' is required", field)
	case "oneof":
		return fmt.Sprintf("Field '%s' must be one of [%s]", field, fe.Param())
	default:
		return fmt.Sprintf("Field '%s' failed validation on the '%s' tag", field, fe.Tag())
	}
}
