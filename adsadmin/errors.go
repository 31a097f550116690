package adsadmin

import (
	"encoding/json"
	"net/http"
)

// Error codes surfaced in ErrorResponse.Error.Code.
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)

// ErrorResponse is the JSON body every non-2xx admin response returns.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a machine-readable code alongside the message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HTTPError pairs a status code with the response body to write for it,
// the same shape the teacher's middleware.HTTPError uses.
type HTTPError struct {
	StatusCode int
	Response   ErrorResponse
}

func (e *HTTPError) Error() string { return e.Response.Error.Message }

func newHTTPError(statusCode int, code, message string) *HTTPError {
	return &HTTPError{StatusCode: statusCode, Response: ErrorResponse{Error: ErrorDetail{Code: code, Message: message}}}
}

func newInvalidRequestError(message string) *HTTPError {
	return newHTTPError(http.StatusBadRequest, ErrCodeInvalidRequest, message)
}

func newInternalError(message string) *HTTPError {
	return newHTTPError(http.StatusInternalServerError, ErrCodeInternalError, message)
}

// writeError renders err as the admin surface's standard error body,
// defaulting unrecognized errors to 500 Internal Error.
func writeError(w http.ResponseWriter, err error) {
	httpErr, ok := err.(*HTTPError)
	if !ok {
		httpErr = newInternalError(err.Error())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpErr.StatusCode)
	_ = json.NewEncoder(w).Encode(httpErr.Response)
}

// writeJSON renders data as the response body with the given status.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
