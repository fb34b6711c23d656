package apperrors

import "errors"

// =============================================================================
// Error Codes
// =============================================================================

type ErrorCode string

const (
	ErrorCodeInternalError     ErrorCode = "INTERNAL_ERROR"
	ErrorCodeValidationError   ErrorCode = "VALIDATION_ERROR"
	ErrorCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrorCodeInvalidCommand    ErrorCode = "INVALID_COMMAND"
	ErrorCodeHeosTimeout       ErrorCode = "HEOS_TIMEOUT"
	ErrorCodeHeosUnreachable   ErrorCode = "HEOS_UNREACHABLE"
	ErrorCodeHeosRejected      ErrorCode = "HEOS_REJECTED"
	ErrorCodeHeosProtocol      ErrorCode = "HEOS_PROTOCOL_ERROR"
	ErrorCodeDeviceNotFound    ErrorCode = "DEVICE_NOT_FOUND"
	ErrorCodeSourceNotFound    ErrorCode = "SOURCE_NOT_FOUND"
	ErrorCodeContainerNotFound ErrorCode = "CONTAINER_NOT_FOUND"
	ErrorCodeEventsUnavailable ErrorCode = "EVENTS_UNAVAILABLE"
)

// Remediation provides guidance on how to fix an error.
type Remediation struct {
	Action     string `json:"action"`
	Endpoint   string `json:"endpoint,omitempty"`
	UserAction string `json:"user_action,omitempty"`
}

// =============================================================================
// Stripe API Error Types
// =============================================================================

// ErrorType categorizes errors following Stripe API conventions.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates invalid parameters, missing required fields, etc.
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeAPIError indicates an internal API error.
	ErrorTypeAPIError ErrorType = "api_error"
	// ErrorTypeDeviceError indicates a player answered badly or not at all.
	ErrorTypeDeviceError ErrorType = "device_error"
)

// StripeErrorBody is the Stripe-style error payload.
// Format: {"type": "invalid_request_error", "code": "NOT_FOUND", "message": "..."}
type StripeErrorBody struct {
	Type        ErrorType      `json:"type"`
	Code        string         `json:"code"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	Remediation *Remediation   `json:"remediation,omitempty"`
}

// AppError is the base error type for HTTP responses.
type AppError struct {
	Code        ErrorCode
	Message     string
	StatusCode  int
	Details     map[string]any
	Remediation *Remediation
}

func (err *AppError) Error() string {
	return err.Message
}

// StripeErrorBody returns the error in Stripe API format.
func (err *AppError) StripeErrorBody() StripeErrorBody {
	// Map status code to error type
	errType := ErrorTypeAPIError
	switch {
	case err.StatusCode >= 400 && err.StatusCode < 500:
		errType = ErrorTypeInvalidRequest
	case err.StatusCode == 502 || err.StatusCode == 504:
		errType = ErrorTypeDeviceError
	}

	return StripeErrorBody{
		Type:        errType,
		Code:        string(err.Code),
		Message:     err.Message,
		Details:     err.Details,
		Remediation: err.Remediation,
	}
}

func NewAppError(code ErrorCode, message string, statusCode int, details map[string]any, remediation *Remediation) *AppError {
	return &AppError{
		Code:        code,
		Message:     message,
		StatusCode:  statusCode,
		Details:     details,
		Remediation: remediation,
	}
}

func NewValidationError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeValidationError, message, 400, details, nil)
}

func NewNotFoundError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeNotFound, message, 404, details, nil)
}

func NewNotFoundResource(resource, id string) *AppError {
	message := resource + " not found"
	details := map[string]any{
		"resource": resource,
	}
	if id != "" {
		message = resource + " not found: " + id
		details["id"] = id
	}
	return NewAppError(ErrorCodeNotFound, message, 404, details, nil)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorCodeInternalError, message, 500, nil, nil)
}

func NewDeviceNotFound(ref string) *AppError {
	return NewAppError(ErrorCodeDeviceNotFound, "player not found: "+ref, 404, map[string]any{"player": ref}, nil)
}

func NewSourceNotFound(sid string) *AppError {
	return NewAppError(ErrorCodeSourceNotFound, "source not found: "+sid, 404, map[string]any{"sid": sid}, nil)
}

func NewContainerNotFound(sid, cid string) *AppError {
	return NewAppError(ErrorCodeContainerNotFound, "container not found: "+cid, 404, map[string]any{"sid": sid, "cid": cid}, nil)
}

func NewEventsUnavailable() *AppError {
	return NewAppError(ErrorCodeEventsUnavailable, "event stream is shut down", 503, nil, nil)
}

func NewInvalidCommand(command string) *AppError {
	return NewAppError(ErrorCodeInvalidCommand, "unknown player command: "+command, 400, map[string]any{"command": command}, &Remediation{
		Action: "use one of play, pause, stop, volume_up, volume_down, next, prev, mute, unmute",
	})
}

// EnsureAppError converts an arbitrary error into an AppError.
func EnsureAppError(err error) *AppError {
	if err == nil {
		return NewInternalError("Unknown error")
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternalError("Internal server error")
}
