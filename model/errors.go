package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest           = "BAD_REQUEST"
	ErrUnauthorized         = "UNAUTHORIZED"
	ErrForbidden            = "FORBIDDEN"
	ErrNotFound             = "NOT_FOUND"
	ErrConflict             = "CONFLICT"
	ErrValidationError      = "VALIDATION_ERROR"
	ErrRateLimited          = "RATE_LIMITED"
	ErrInternalError        = "INTERNAL_ERROR"
	ErrDirectoryUnavailable = "DIRECTORY_UNAVAILABLE"
)

// Workflow-specific error codes.
const (
	ErrWorkflowNotFound          = "WORKFLOW_NOT_FOUND"
	ErrWorkflowNotActive         = "WORKFLOW_NOT_ACTIVE"
	ErrDefinitionNotFound        = "DEFINITION_NOT_FOUND"
	ErrNoStartingStage           = "NO_STARTING_STAGE"
	ErrInvalidTransition         = "INVALID_TRANSITION"
	ErrInvalidBackwardTransition = "INVALID_BACKWARD_TRANSITION"
)

// ErrorEnvelope is the standard error response envelope returned by the
// service. It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewDirectoryUnavailableError returns a DIRECTORY_UNAVAILABLE error.
func NewDirectoryUnavailableError(service string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrDirectoryUnavailable,
		Message: fmt.Sprintf("The %s service is temporarily unavailable", service),
	}
}

// NewWorkflowNotFoundError returns a WORKFLOW_NOT_FOUND error.
func NewWorkflowNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrWorkflowNotFound, Message: msg}
}

// NewWorkflowNotActiveError returns a WORKFLOW_NOT_ACTIVE error.
func NewWorkflowNotActiveError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrWorkflowNotActive, Message: msg}
}

// NewDefinitionNotFoundError returns a DEFINITION_NOT_FOUND error.
func NewDefinitionNotFoundError(workflowID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrDefinitionNotFound,
		Message: fmt.Sprintf("workflow definition %q not found", workflowID),
	}
}

// NewNoStartingStageError returns a NO_STARTING_STAGE error.
func NewNoStartingStageError(workflowID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrNoStartingStage,
		Message: fmt.Sprintf("workflow definition %q has no starting stage", workflowID),
	}
}

// NewInvalidTransitionError returns an INVALID_TRANSITION error.
func NewInvalidTransitionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidTransition, Message: msg}
}

// NewInvalidBackwardTransitionError returns an INVALID_BACKWARD_TRANSITION error.
func NewInvalidBackwardTransitionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidBackwardTransition, Message: msg}
}
