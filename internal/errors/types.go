package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误
	ErrCodeInternalServer ErrorCode = "INTERNAL_SERVER_ERROR"
	ErrCodeBadRequest     ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"

	// 验证错误
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired  ErrorCode = "MISSING_REQUIRED"

	// 上传与解析错误
	ErrCodeUnsupportedFileType ErrorCode = "UNSUPPORTED_FILE_TYPE"
	ErrCodeNoContent           ErrorCode = "NO_CONTENT"
	ErrCodeFileTooLarge        ErrorCode = "FILE_TOO_LARGE"
	ErrCodeInvalidFileFormat   ErrorCode = "INVALID_FILE_FORMAT"

	// 外部服务错误
	ErrCodeExternalService ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeEmbeddingFailed ErrorCode = "EMBEDDING_FAILED"
	ErrCodeTimeout         ErrorCode = "TIMEOUT"

	// 索引一致性错误
	ErrCodeIndexInconsistent ErrorCode = "INDEX_INCONSISTENT"
	ErrCodeDimensionMismatch ErrorCode = "DIMENSION_MISMATCH"
	ErrCodeStorageFailed     ErrorCode = "STORAGE_FAILED"
)

// ErrorType 错误类型
type ErrorType int

const (
	ErrorTypeSystem ErrorType = iota
	ErrorTypeBusiness
	ErrorTypeValidation
	ErrorTypeExternal
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeBusiness:
		return "business"
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeExternal:
		return "external"
	default:
		return "system"
	}
}

// AppError 应用错误结构体
type AppError struct {
	Code     ErrorCode   `json:"code"`
	Message  string      `json:"message"`
	Type     ErrorType   `json:"type"`
	HTTPCode int         `json:"-"`
	Details  interface{} `json:"details,omitempty"`
	Cause    error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails 添加错误详情
func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause 添加错误原因
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// NewSystemError 创建系统错误
func NewSystemError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Type:     ErrorTypeSystem,
		HTTPCode: http.StatusInternalServerError,
	}
}

// NewBusinessError 创建业务错误
func NewBusinessError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Type:     ErrorTypeBusiness,
		HTTPCode: getHTTPCodeForError(code),
	}
}

// NewValidationError 创建验证错误
func NewValidationError(message string) *AppError {
	return &AppError{
		Code:     ErrCodeValidationFailed,
		Message:  message,
		Type:     ErrorTypeValidation,
		HTTPCode: http.StatusBadRequest,
	}
}

// NewExternalError 上游服务（embedding/chat）失败
func NewExternalError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Type:     ErrorTypeExternal,
		HTTPCode: http.StatusBadGateway,
	}
}

// NewUnsupportedFileTypeError 不支持的文件类型
func NewUnsupportedFileTypeError(filename, ext string) *AppError {
	return NewBusinessError(ErrCodeUnsupportedFileType, fmt.Sprintf("Unsupported file type: %s", ext)).
		WithDetails(map[string]string{"file": filename})
}

// NewNoContentError 文件中没有可索引的内容
func NewNoContentError(filename, reason string) *AppError {
	return NewBusinessError(ErrCodeNoContent, reason).
		WithDetails(map[string]string{"file": filename})
}

// NewInconsistencyError 向量与元数据无法对齐，属于致命错误
func NewInconsistencyError(code ErrorCode, message string) *AppError {
	return NewSystemError(code, message)
}

func getHTTPCodeForError(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrCodeValidationFailed, ErrCodeInvalidInput, ErrCodeMissingRequired,
		ErrCodeBadRequest, ErrCodeUnsupportedFileType, ErrCodeNoContent, ErrCodeInvalidFileFormat:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// IsAppError 检查是否为AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError 获取AppError，如果不是则包装为系统错误
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewSystemError(ErrCodeInternalServer, "Internal server error").WithCause(err)
}

// IsInputError 输入类错误（调用方可修正）
func IsInputError(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Type == ErrorTypeBusiness || appErr.Type == ErrorTypeValidation
}
