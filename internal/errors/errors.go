package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode identifies a class of application error
type ErrorCode string

const (
	// Generic errors
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeTimeout      ErrorCode = "TIMEOUT"
	ErrCodeRateLimit    ErrorCode = "RATE_LIMIT"

	// BRAIN API errors
	ErrCodeAuthFailed       ErrorCode = "AUTH_FAILED"
	ErrCodeSessionExpired   ErrorCode = "SESSION_EXPIRED"
	ErrCodeAPIConnection    ErrorCode = "API_CONNECTION_ERROR"
	ErrCodeAPIResponse      ErrorCode = "API_RESPONSE_ERROR"
	ErrCodeSimulationSubmit ErrorCode = "SIMULATION_SUBMIT_ERROR"
	ErrCodeSimulationFailed ErrorCode = "SIMULATION_FAILED"

	// Generator errors
	ErrCodeCatalogEmpty    ErrorCode = "CATALOG_EMPTY"
	ErrCodeTemplateInvalid ErrorCode = "TEMPLATE_INVALID"

	// Persistence errors
	ErrCodeQueueEmpty ErrorCode = "QUEUE_EMPTY"
	ErrCodeCSVRead    ErrorCode = "CSV_READ_ERROR"
	ErrCodeCSVWrite   ErrorCode = "CSV_WRITE_ERROR"

	// Cache errors
	ErrCodeCacheConnection ErrorCode = "CACHE_CONNECTION_ERROR"
	ErrCodeCacheMiss       ErrorCode = "CACHE_MISS"
)

// ErrorSeverity ranks how urgent an error is for operators
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// AppError is the application error carried across package boundaries
type AppError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Severity  ErrorSeverity          `json:"severity"`
	Timestamp time.Time              `json:"timestamp"`
	RunID     string                 `json:"run_id,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Severity:  getSeverityByCode(code),
		Timestamp: time.Now(),
		Cause:     cause,
		Context:   make(map[string]interface{}),
	}
}

// NewAppErrorWithDetails creates a new application error with extra details
func NewAppErrorWithDetails(code ErrorCode, message, details string, cause error) *AppError {
	err := NewAppError(code, message, cause)
	err.Details = details
	return err
}

// WithContext attaches a key/value pair to the error context
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRunID tags the error with the pipeline run id
func (e *AppError) WithRunID(runID string) *AppError {
	e.RunID = runID
	return e
}

// getSeverityByCode maps an error code to its default severity
func getSeverityByCode(code ErrorCode) ErrorSeverity {
	switch code {
	case ErrCodeInternal, ErrCodeAuthFailed:
		return SeverityCritical
	case ErrCodeAPIConnection, ErrCodeSimulationSubmit, ErrCodeCSVWrite:
		return SeverityHigh
	case ErrCodeAPIResponse, ErrCodeSimulationFailed, ErrCodeCacheConnection, ErrCodeCSVRead:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// IsRetryable reports whether the operation behind the error may be retried
func (e *AppError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeTimeout, ErrCodeRateLimit, ErrCodeAPIConnection,
		ErrCodeCacheConnection, ErrCodeSessionExpired:
		return true
	default:
		return false
	}
}

// FromHTTPStatus classifies a non-2xx response from the remote service
func FromHTTPStatus(status int, body string) *AppError {
	var code ErrorCode
	switch {
	case status == http.StatusUnauthorized:
		code = ErrCodeSessionExpired
	case status == http.StatusForbidden:
		code = ErrCodeAuthFailed
	case status == http.StatusNotFound:
		code = ErrCodeNotFound
	case status == http.StatusTooManyRequests:
		code = ErrCodeRateLimit
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		code = ErrCodeTimeout
	case status >= 500:
		code = ErrCodeAPIConnection
	case status >= 400:
		code = ErrCodeAPIResponse
	default:
		code = ErrCodeInternal
	}
	err := NewAppError(code, fmt.Sprintf("unexpected status %d", status), nil)
	err.Details = body
	return err.WithContext("status", status)
}

// Predefined common errors
var (
	ErrInternalServer = NewAppError(ErrCodeInternal, "Internal error", nil)
	ErrInvalidInput   = NewAppError(ErrCodeInvalidInput, "Invalid input parameters", nil)
	ErrNotFound       = NewAppError(ErrCodeNotFound, "Resource not found", nil)
	ErrUnauthorized   = NewAppError(ErrCodeUnauthorized, "Unauthorized access", nil)
	ErrQueueEmpty     = NewAppError(ErrCodeQueueEmpty, "No pending alphas in queue", nil)
	ErrCacheMiss      = NewAppError(ErrCodeCacheMiss, "Cache miss", nil)
)

// WrapError wraps a standard error as an AppError
func WrapError(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewAppError(code, message, err)
}

// IsAppError checks whether err carries an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts the AppError from err, or nil
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsRetryable reports whether err is a retryable AppError
func IsRetryable(err error) bool {
	if appErr := GetAppError(err); appErr != nil {
		return appErr.IsRetryable()
	}
	return false
}
