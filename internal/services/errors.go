package services

import "errors"

// Failure kinds of the deck pipeline. They surface as 500s; callers match
// them with errors.Is after the service wraps the cause.
var (
	ErrGenerationFailed  = errors.New("generation failed")
	ErrMalformedResponse = errors.New("malformed model response")
	ErrSchemaViolation   = errors.New("invalid deck structure from model")
	ErrPersistenceFailed = errors.New("persistence failed")
)

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string { return "Validation error" }

func newValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

type ConflictError struct{ Message string }

func (e *ConflictError) Error() string { return e.Message }

type NotFoundError struct{ Message string }

func (e *NotFoundError) Error() string { return e.Message }

type UnauthorizedError struct{ Message string }

func (e *UnauthorizedError) Error() string { return e.Message }

type ForbiddenError struct{ Message string }

func (e *ForbiddenError) Error() string { return e.Message }

type RateLimitError struct{ Message string }

func (e *RateLimitError) Error() string { return e.Message }

// UnprocessableError marks a well-formed request the current state cannot serve.
type UnprocessableError struct {
	Code    string
	Message string
}

func (e *UnprocessableError) Error() string { return e.Message }

// SchemaError describes where a model response broke the deck shape.
type SchemaError struct {
	Path   string
	Reason string
}

func (e *SchemaError) Error() string {
	return ErrSchemaViolation.Error() + ": " + e.Path + ": " + e.Reason
}

func (e *SchemaError) Unwrap() error { return ErrSchemaViolation }
