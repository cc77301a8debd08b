package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func errCanvasNotFound(canvasID string) *DomainError {
	return domainError(http.StatusNotFound, "CANVAS_NOT_FOUND", "Canvas not found", map[string]any{
		"canvasId": canvasID,
	})
}

func errVersionNotFound(canvasID string, version *int64) *DomainError {
	details := map[string]any{"canvasId": canvasID}
	if version != nil {
		details["version"] = *version
	}
	return domainError(http.StatusNotFound, "VERSION_NOT_FOUND", "No canvas version resolves", details)
}

func errOperationTooFrequent(canvasID string) *DomainError {
	return domainError(http.StatusTooManyRequests, "OPERATION_TOO_FREQUENT", "Canvas is being modified by another request", map[string]any{
		"canvasId": canvasID,
	})
}
