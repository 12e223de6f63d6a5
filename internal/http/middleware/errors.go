package middleware

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/wolfman30/exam-scheduling/internal/apperr"
)

type errorBody struct {
	Code    apperr.Kind    `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// WriteError renders err as {code, message, details} with the kind's status.
// Untyped errors become INTERNAL_ERROR without leaking their text.
func WriteError(w http.ResponseWriter, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.Internal(err)
	}
	status := appErr.HTTPStatus
	if status == 0 {
		status = apperr.StatusFor(appErr.Kind)
	}
	if appErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(appErr.RetryAfter.Seconds()))))
	}
	WriteJSON(w, status, errorBody{Code: appErr.Kind, Message: appErr.Message, Details: appErr.Details})
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
