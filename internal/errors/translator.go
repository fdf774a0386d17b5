package errors

import (
	"context"
	"errors"
	"net"

	"github.com/go-playground/validator/v10"
	openai "github.com/sashabaranov/go-openai"
)

// ErrorTranslator 错误转换器
type ErrorTranslator struct{}

// NewErrorTranslator 创建错误转换器
func NewErrorTranslator() *ErrorTranslator {
	return &ErrorTranslator{}
}

// Translate 将各种类型的错误转换为AppError
func (t *ErrorTranslator) Translate(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		return t.translateValidationErrors(validationErrors)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return NewExternalError(ErrCodeExternalService, "Upstream model service error").
			WithDetails(map[string]interface{}{"status": apiErr.HTTPStatusCode}).
			WithCause(err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return NewExternalError(ErrCodeExternalService, "Upstream model service error").
			WithDetails(map[string]interface{}{"status": reqErr.HTTPStatusCode}).
			WithCause(err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewSystemError(ErrCodeTimeout, "Operation timed out").WithCause(err)
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewSystemError(ErrCodeTimeout, "Operation timed out").WithCause(err)
		}
		return NewExternalError(ErrCodeExternalService, "Network error").WithCause(err)
	}

	return NewSystemError(ErrCodeInternalServer, "Internal server error").WithCause(err)
}

func (t *ErrorTranslator) translateValidationErrors(validationErrors validator.ValidationErrors) *AppError {
	details := make([]map[string]interface{}, 0, len(validationErrors))
	for _, fieldError := range validationErrors {
		details = append(details, map[string]interface{}{
			"field":   fieldError.Field(),
			"tag":     fieldError.Tag(),
			"message": t.getValidationErrorMessage(fieldError),
		})
	}

	return NewValidationError("Validation failed").
		WithDetails(map[string]interface{}{"errors": details})
}

func (t *ErrorTranslator) getValidationErrorMessage(fieldError validator.FieldError) string {
	field := fieldError.Field()

	switch fieldError.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return field + " must be at least " + fieldError.Param()
	case "max":
		return field + " must be at most " + fieldError.Param()
	case "gte":
		return field + " must be greater than or equal to " + fieldError.Param()
	case "lte":
		return field + " must be less than or equal to " + fieldError.Param()
	case "oneof":
		return field + " must be one of: " + fieldError.Param()
	default:
		return field + " is invalid"
	}
}

// Wrap 包装错误为AppError
func (t *ErrorTranslator) Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return NewSystemError(code, message).WithCause(err)
}
