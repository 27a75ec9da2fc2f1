package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// AppError represents an application error with HTTP context
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *AppError) Error() string {
	return e.Message
}

// ErrorResponse is the JSON response format for errors
type ErrorResponse struct {
	Error *AppError `json:"error"`
}

// WriteJSON writes the error as JSON response
func (e *AppError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: e})
}

// ============================================================
// ERROR CONSTRUCTORS
// ============================================================

// Validation Errors (400)
func BadRequest(message string) *AppError {
	return &AppError{
		Code:       "BAD_REQUEST",
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func InvalidURL(details string) *AppError {
	return &AppError{
		Code:       "INVALID_URL",
		Message:    "The provided URL is invalid",
		Details:    details,
		StatusCode: http.StatusBadRequest,
	}
}

func InvalidCode(details string) *AppError {
	return &AppError{
		Code:       "INVALID_CODE",
		Message:    "Custom code must be 3-20 characters of letters, digits, '_' or '-'",
		Details:    details,
		StatusCode: http.StatusBadRequest,
	}
}

func InvalidJSON(details string) *AppError {
	return &AppError{
		Code:       "INVALID_JSON",
		Message:    "Invalid JSON in request body",
		Details:    details,
		StatusCode: http.StatusBadRequest,
	}
}

// Auth Errors (401)
func Unauthorized(details string) *AppError {
	return &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Missing or invalid bearer token",
		Details:    details,
		StatusCode: http.StatusUnauthorized,
	}
}

// Not Found Errors (404)
func NotFound(resource string) *AppError {
	return &AppError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
	}
}

func URLNotFound(code string) *AppError {
	return &AppError{
		Code:       "URL_NOT_FOUND",
		Message:    fmt.Sprintf("Short URL '%s' not found", code),
		StatusCode: http.StatusNotFound,
	}
}

// Conflict Errors (409)
func CodeConflict(code string) *AppError {
	return &AppError{
		Code:       "CODE_CONFLICT",
		Message:    fmt.Sprintf("Short code '%s' is already in use", code),
		StatusCode: http.StatusConflict,
	}
}

// Gone (410)
func URLExpired(code string) *AppError {
	return &AppError{
		Code:       "URL_EXPIRED",
		Message:    fmt.Sprintf("Short URL '%s' has expired", code),
		StatusCode: http.StatusGone,
	}
}

// Rate Limit Error (429)
func RateLimitExceeded() *AppError {
	return &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Too many requests, please try again later",
		StatusCode: http.StatusTooManyRequests,
	}
}

// Server Errors (500)
func Internal(details string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    "An internal server error occurred",
		Details:    details,
		StatusCode: http.StatusInternalServerError,
	}
}

func ServiceUnavailable(details string) *AppError {
	return &AppError{
		Code:       "SERVICE_UNAVAILABLE",
		Message:    "The service is temporarily unavailable",
		Details:    details,
		StatusCode: http.StatusServiceUnavailable,
	}
}
