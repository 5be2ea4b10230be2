// Package apperror defines the structured error type and code taxonomy used
// across the bot. Errors compare by code via errors.Is.
package apperror

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"
)

// AppError implements the error interface and provides structured error handling
type AppError struct {
	Code      Code           `json:"code"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	retryable bool
	cause     error
	stack     []uintptr
}

// Error implements the error interface
func (e *AppError) Error() string {
	if len(e.Context) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}

	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s (", e.Code, e.Message)
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s=%v", k, e.Context[k])
	}
	sb.WriteString(")")
	return sb.String()
}

// Unwrap implements the errors.Unwrap interface
func (e *AppError) Unwrap() error {
	return e.cause
}

// Is matches errors by code so callers can compare against sentinel values
// built with New(code).
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// ToLog serializes the error for logging with stack trace
func (e *AppError) ToLog() map[string]any {
	log := map[string]any{
		"code":      e.Code,
		"message":   e.Message,
		"timestamp": e.Timestamp.Format(time.RFC3339),
	}

	for k, v := range e.Context {
		log[k] = v
	}
	if e.cause != nil {
		log["cause"] = e.cause.Error()
	}
	if len(e.stack) > 0 {
		log["stack"] = e.formatStack()
	}

	return log
}

func (e *AppError) formatStack() string {
	var sb strings.Builder
	frames := runtime.CallersFrames(e.stack)
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			sb.WriteString(fmt.Sprintf("\n\t%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return sb.String()
}

func captureStack() []uintptr {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	return pcs[:n]
}

// New creates a new AppError with the given code and options
func New(code Code, opts ...Option) *AppError {
	err := &AppError{
		Code:      code,
		Message:   messages[code],
		Timestamp: time.Now(),
		retryable: defaultRetryable(code),
		stack:     captureStack(),
	}

	for _, opt := range opts {
		opt(err)
	}

	if err.Message == "" {
		err.Message = string(code)
	}

	return err
}

// Option is a functional option for AppError
type Option func(*AppError)

// WithMessage sets a custom message
func WithMessage(message string) Option {
	return func(e *AppError) {
		e.Message = message
	}
}

// WithContext attaches a key/value to the error. Repeated calls accumulate.
func WithContext(key string, value any) Option {
	return func(e *AppError) {
		if e.Context == nil {
			e.Context = make(map[string]any, 4)
		}
		e.Context[key] = value
	}
}

// WithCause wraps an underlying error
func WithCause(cause error) Option {
	return func(e *AppError) {
		e.cause = cause
	}
}

// WithRetryable overrides the retryability classification
func WithRetryable(retryable bool) Option {
	return func(e *AppError) {
		e.retryable = retryable
	}
}

// Wrap wraps a standard error into AppError, passing AppErrors through.
func Wrap(err error, code Code, message string) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return New(code, WithMessage(message), WithCause(err))
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetCode extracts the error code from an error
func GetCode(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknownError
}

// IsRetryable reports whether the failure is transient. Non-AppErrors are
// considered transient so callers retry unknown provider failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.retryable
	}
	return true
}

// defaultRetryable classifies codes by whether a retry can possibly succeed.
// Nonce conflicts, balance shortfalls, config problems and terminal guards
// never heal on their own.
func defaultRetryable(code Code) bool {
	switch code {
	case CodeConfigurationError,
		CodeAlreadyInitialized,
		CodeChainIDMismatch,
		CodeExecutionEndpointOpen,
		CodeNonceConflict,
		CodeInsufficientBalance,
		CodeNotionalExceeded,
		CodeProfitRevalidation,
		CodeEmergencyStop,
		CodeRelaysExhausted,
		CodeInvalidInput,
		CodeRequiredField:
		return false
	default:
		return true
	}
}
