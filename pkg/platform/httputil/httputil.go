// Package httputil maps domain errors onto JSON error responses. Handlers call
// WriteError with whatever the service returned; internal causes are never
// leaked to callers.
package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	dErrors "sitegate/pkg/domain-errors"
)

var codeStatus = map[dErrors.Code]int{
	dErrors.CodeInvalidInput:       http.StatusBadRequest,
	dErrors.CodeBadRequest:         http.StatusBadRequest,
	dErrors.CodeNotFound:           http.StatusNotFound,
	dErrors.CodeConflict:           http.StatusConflict,
	dErrors.CodeForbidden:          http.StatusForbidden,
	dErrors.CodeUnauthorized:       http.StatusUnauthorized,
	dErrors.CodeUnavailable:        http.StatusServiceUnavailable,
	dErrors.CodeInvariantViolation: http.StatusConflict,
	dErrors.CodeInternal:           http.StatusInternalServerError,
}

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	Details          any    `json:"details,omitempty"`
}

// WriteError renders err as a JSON error response. Internal errors omit the
// description so store and broker failures never leak to API callers.
func WriteError(w http.ResponseWriter, err error) {
	WriteErrorDetails(w, err, nil)
}

// WriteErrorDetails renders err with an optional structured details payload,
// used by gate verification to name the exact missing preconditions.
func WriteErrorDetails(w http.ResponseWriter, err error, details any) {
	code := dErrors.CodeOf(err)
	status, ok := codeStatus[code]
	if !ok {
		status = http.StatusInternalServerError
	}

	body := errorBody{Error: string(code), Details: details}
	if code != dErrors.CodeInternal {
		var de *dErrors.Error
		if errors.As(err, &de) {
			body.ErrorDescription = de.Message
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteJSON renders v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			slog.Default().Error("encode response", "error", err)
		}
	}
}

// DecodeJSON parses the request body into v, returning a coded error on failure.
func DecodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid JSON body")
	}
	return nil
}
