package model

import "testing"

func TestErrorEnvelopeError(t *testing.T) {
	err := NewWorkflowNotActiveError("no active workflow found for document doc-1")
	want := "WORKFLOW_NOT_ACTIVE: no active workflow found for document doc-1"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestErrorConstructorCodes(t *testing.T) {
	tests := []struct {
		name string
		err  *ErrorEnvelope
		code string
	}{
		{"bad request", NewBadRequestError("x"), ErrBadRequest},
		{"unauthorized", NewUnauthorizedError("x"), ErrUnauthorized},
		{"forbidden", NewForbiddenError("x"), ErrForbidden},
		{"not found", NewNotFoundError("x"), ErrNotFound},
		{"conflict", NewConflictError("x"), ErrConflict},
		{"internal", NewInternalError(), ErrInternalError},
		{"directory unavailable", NewDirectoryUnavailableError("users"), ErrDirectoryUnavailable},
		{"workflow not found", NewWorkflowNotFoundError("x"), ErrWorkflowNotFound},
		{"workflow not active", NewWorkflowNotActiveError("x"), ErrWorkflowNotActive},
		{"definition not found", NewDefinitionNotFoundError("wf"), ErrDefinitionNotFound},
		{"no starting stage", NewNoStartingStageError("wf"), ErrNoStartingStage},
		{"invalid transition", NewInvalidTransitionError("x"), ErrInvalidTransition},
		{"invalid backward transition", NewInvalidBackwardTransitionError("x"), ErrInvalidBackwardTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.Message == "" {
				t.Error("Message is empty")
			}
		})
	}
}

func TestNewValidationErrorDetails(t *testing.T) {
	err := NewValidationError([]FieldError{
		{Field: "reason", Code: "required", Message: "reason is required"},
	})
	if err.Code != ErrValidationError {
		t.Errorf("Code = %q, want %q", err.Code, ErrValidationError)
	}
	if len(err.Details) != 1 || err.Details[0].Field != "reason" {
		t.Errorf("Details = %+v, want one entry for field reason", err.Details)
	}
}
