package models

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
)

// Error codes carried by AppError.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeUnauthenticated  = "UNAUTHENTICATED"
	CodeForbidden        = "FORBIDDEN"
	CodeNotFound         = "NOT_FOUND"
	CodeConflict         = "CONFLICT"
	CodeAlreadyProcessed = "ALREADY_PROCESSED"
	CodeQuotaExceeded    = "QUOTA_EXCEEDED"
	CodeInternal         = "INTERNAL_ERROR"
)

// Envelope is the response body shape for every API response.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Predefined error constructors
func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

func NewUnauthenticatedError(message string) *AppError {
	return &AppError{
		Code:    CodeUnauthenticated,
		Message: message,
	}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{
		Code:    CodeForbidden,
		Message: message,
	}
}

func NewConflictError(message string) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: message,
	}
}

// NewAlreadyProcessedError reports an attempt to transition an item that is already terminal.
func NewAlreadyProcessedError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    CodeAlreadyProcessed,
		Message: fmt.Sprintf("%s %v already processed", resource, id),
	}
}

// NewQuotaExceededError reports that the tenant has no remaining monthly quota for a media kind.
func NewQuotaExceededError(kind string, limit int) *AppError {
	return &AppError{
		Code:    CodeQuotaExceeded,
		Message: fmt.Sprintf("quota exceeded: monthly %s limit of %d reached", kind, limit),
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "Internal server error",
		Err:     err,
	}
}

// IsCode reports whether err wraps an AppError with the given code.
func IsCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// StatusFor maps an error onto its HTTP status code.
func StatusFor(err error) int {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}
	switch appErr.Code {
	case CodeValidation, CodeQuotaExceeded:
		return fiber.StatusBadRequest
	case CodeUnauthenticated:
		return fiber.StatusUnauthorized
	case CodeForbidden:
		return fiber.StatusForbidden
	case CodeNotFound:
		return fiber.StatusNotFound
	case CodeConflict, CodeAlreadyProcessed:
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

// RespondWithError writes the error envelope. Internal diagnostics stay in the server log.
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	response := Envelope{Success: false}

	var appErr *AppError
	switch {
	case errors.As(err, &appErr) && appErr.Code != CodeInternal:
		response.Message = appErr.Message
		response.Code = appErr.Code
	case status < fiber.StatusInternalServerError:
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			response.Message = fiberErr.Message
		} else {
			response.Message = err.Error()
		}
	default:
		slog.ErrorContext(c.UserContext(), "request failed",
			slog.String("path", c.Path()),
			slog.String("error", err.Error()),
		)
		response.Message = "Internal server error"
		response.Code = CodeInternal
	}

	return c.Status(status).JSON(response)
}

// RespondError derives the status from err and writes the error envelope.
func RespondError(c *fiber.Ctx, err error) error {
	return RespondWithError(c, StatusFor(err), err)
}

// RespondOK writes a success envelope with the given payload.
func RespondOK(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(Envelope{Success: true, Data: data})
}
