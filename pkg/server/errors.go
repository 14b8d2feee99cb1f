package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	opserrors "github.com/nucypher/nucypher-ops/pkg/errors"
	"github.com/nucypher/nucypher-ops/pkg/serializer"
)

// Error codes as constants
const (
	ErrCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
)

func newRequestID() string { return uuid.New().String() }

// WriteError writes the error envelope with a request ID and timestamp.
func WriteError(w http.ResponseWriter, r *http.Request, statusCode int,
	code, message string, retryable bool, details map[string]any) {

	requestID, _ := r.Context().Value(contextKeyRequestID).(string)
	if requestID == "" {
		requestID = newRequestID()
	}

	errResp := ErrorResponse{
		Code:      code,
		Message:   message,
		Details:   details,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Retryable: retryable,
	}

	serializer.RespondJSON(w, statusCode, errResp)
}

// WriteStructuredError maps a structured error to the API envelope.
func WriteStructuredError(w http.ResponseWriter, r *http.Request, err error) {
	code := opserrors.Code(err)
	WriteError(w, r, opserrors.HTTPStatus(err), string(code), err.Error(),
		opserrors.Retryable(err), nil)
}
