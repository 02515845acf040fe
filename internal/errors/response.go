package errors

import (
	stderrors "errors"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
)

// Standard for Error reponses to the client.
type ErrorResponse struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// Error is required by the error interface.
func (e ErrorResponse) Error() string {
	return e.Message
}

// Get the StatusCode of the error.
func (e ErrorResponse) StatusCode() int {
	return e.Status
}

// Replicates the New method of default errors package.
func New(err string) error {
	return ErrorResponse{
		Message: err,
	}
}

// InternalServerError creates a new error response representing an internal server error (HTTP 500)
func InternalServerError(msg string) ErrorResponse {
	if msg == "" {
		msg = "We encountered an error while processing your request."
	}
	return ErrorResponse{
		Status:  http.StatusInternalServerError,
		Message: msg,
	}
}

// NotFound creates a new error response representing a resource-not-found error (HTTP 404)
func NotFound(msg string) ErrorResponse {
	if msg == "" {
		msg = "The requested resource was not found."
	}
	return ErrorResponse{
		Status:  http.StatusNotFound,
		Message: msg,
	}
}

// Unauthorized creates a new error response representing an authentication/authorization failure (HTTP 401)
func Unauthorized(msg string) ErrorResponse {
	if msg == "" {
		msg = "You are not authenticated to perform the requested action."
	}
	return ErrorResponse{
		Status:  http.StatusUnauthorized,
		Message: msg,
	}
}

// BadRequest creates a new error response representing a bad request (HTTP 400)
func BadRequest(msg string) ErrorResponse {
	if msg == "" {
		msg = "Your request is in a bad format."
	}
	return ErrorResponse{
		Status:  http.StatusBadRequest,
		Message: msg,
	}
}

// TooManyRequests creates a new error response representing a rate limited client (HTTP 429)
func TooManyRequests(msg string) ErrorResponse {
	if msg == "" {
		msg = "Too many requests, slow down and retry later."
	}
	return ErrorResponse{
		Status:  http.StatusTooManyRequests,
		Message: msg,
	}
}

// ServiceUnavailable creates a new error response representing a temporarily unavailable service (HTTP 503)
func ServiceUnavailable(msg string) ErrorResponse {
	if msg == "" {
		msg = "The service is temporarily unavailable, please retry later."
	}
	return ErrorResponse{
		Status:  http.StatusServiceUnavailable,
		Message: msg,
	}
}

// MemoryPressureCode is the machine readable error of a shed request.
const MemoryPressureCode = "MEMORY_PRESSURE"

// PressureResponse is the body returned by heavy endpoints while load shedding is active.
type PressureResponse struct {
	Error             string  `json:"error"`
	RetryAfterSeconds int     `json:"retryAfterSeconds"`
	HeapUsedPercent   float64 `json:"heapUsedPercent"`
}

// MemoryPressure builds the retryable 503 body. retryAfter is rounded up to whole seconds.
func MemoryPressure(retryAfter time.Duration, heapUsedPercent float64) PressureResponse {
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return PressureResponse{
		Error:             MemoryPressureCode,
		RetryAfterSeconds: seconds,
		HeapUsedPercent:   math.Round(heapUsedPercent*10000) / 10000,
	}
}

// Standard for Validation-error responses to the client.
type validationError struct {
	Param   string `json:"param"`   // Parameter or Field
	Message string `json:"message"` // Issue in Field
}

// Captures multiple validation issues and sends it as a response in one go.
type ValidationErrorResponse struct {
	Response []validationError `json:"errors"`
}

// Scans through set of validation errors found by govalidator,
// Generates a slice of serializable validationErrorResponse.
func GenerateValidationErrorResponse(errs []error) ErrorResponse {
	// govalidator returns array of errors in -> Param:Message format
	// We split the error from ":"
	resp := []validationError{}
	for _, err := range errs {
		param, message, found := strings.Cut(err.Error(), ":")
		if !found {
			param, message = "", param
		}
		resp = append(resp, validationError{
			Param:   param,
			Message: strings.TrimSpace(message),
		})
	}
	return ErrorResponse{
		Status:  http.StatusBadRequest,
		Message: "Data validation error",
		Details: ValidationErrorResponse{Response: resp},
	}
}

// FromValidation turns the error of govalidator.ValidateStruct into a validation error response.
// Nested struct errors are flattened.
func FromValidation(err error) ErrorResponse {
	var errs govalidator.Errors
	if !stderrors.As(err, &errs) {
		return GenerateValidationErrorResponse([]error{err})
	}
	return GenerateValidationErrorResponse(flatten(errs))
}

func flatten(errs govalidator.Errors) []error {
	var out []error
	for _, err := range errs {
		var nested govalidator.Errors
		if stderrors.As(err, &nested) {
			out = append(out, flatten(nested)...)
			continue
		}
		out = append(out, err)
	}
	return out
}
