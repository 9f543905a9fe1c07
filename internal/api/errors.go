package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-zwave/internal/bridges/zwave"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes, one per status the API returns.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeForbidden      = "forbidden"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeMethodNotAllow = "method_not_allowed"
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeUnavailable    = "service_unavailable"
)

var statusCodes = map[int]string{
	http.StatusBadRequest:          ErrCodeBadRequest,
	http.StatusUnauthorized:        ErrCodeUnauthorized,
	http.StatusForbidden:           ErrCodeForbidden,
	http.StatusNotFound:            ErrCodeNotFound,
	http.StatusMethodNotAllowed:    ErrCodeMethodNotAllow,
	http.StatusConflict:            ErrCodeConflict,
	http.StatusUnprocessableEntity: ErrCodeValidation,
	http.StatusTooManyRequests:     ErrCodeRateLimited,
	http.StatusServiceUnavailable:  ErrCodeUnavailable,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v) //nolint:errcheck // client may have gone away
	}
}

// writeError writes an Error whose code follows from status. Statuses
// without a dedicated code report internal_error.
func writeError(w http.ResponseWriter, status int, message string) {
	code, ok := statusCodes[status]
	if !ok {
		code = ErrCodeInternal
	}
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, message)
}

func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, message)
}

// writeCommandError maps a dispatch failure onto a status. Unknown entities
// are 404, bad commands or values 422, and commands the device class cannot
// carry 409.
func writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case zwave.IsMappingMiss(err):
		writeNotFound(w, err.Error())
	case errors.Is(err, zwave.ErrInvalidCommand),
		errors.Is(err, zwave.ErrInvalidValue):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, zwave.ErrCommandUnsupported),
		errors.Is(err, zwave.ErrNoCommandTopic):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeInternalError(w, "failed to dispatch command")
	}
}
