package web

// errors.go turns engine errors into JSON responses.
//
// The status comes from the error's class (unknown entity, structural file
// problem, busy limiter, ...). The body carries core.MapError's user message
// and code, plus any hints attached to structural errors. The technical error
// is only logged, with the request ID for correlation.

import (
	"context"
	"net/http"

	"github.com/cockroachdb/errors"

	"github.com/JonMunkholm/sheetport/internal/application"
	"github.com/JonMunkholm/sheetport/internal/core"
	"github.com/JonMunkholm/sheetport/internal/logging"
	"github.com/JonMunkholm/sheetport/internal/resultlog"
	"github.com/JonMunkholm/sheetport/internal/store"
)

// Marks for request-level failures.
var (
	errBadRequest = errors.New("bad request")
	errTooLarge   = errors.New("request body too large")
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Action  string   `json:"action,omitempty"`
	Code    string   `json:"code"`
	Hints   []string `json:"hints,omitempty"`
}

// statusFor classifies err.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrUnsupportedEntity), errors.Is(err, resultlog.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest), errors.Is(err, store.ErrInvalidField):
		return http.StatusBadRequest
	case errors.Is(err, errTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrTooManyImports), errors.Is(err, application.ErrResultLogDisabled):
		return http.StatusServiceUnavailable
	case core.IsStructural(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// respondError writes err with the status its class maps to.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	respondErrorStatus(w, r, err, statusFor(err))
}

func respondErrorStatus(w http.ResponseWriter, r *http.Request, err error, status int) {
	msg := core.MapError(err)

	log := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}
	if status >= http.StatusInternalServerError {
		log.Error("request error", attrs...)
	} else {
		log.Warn("request error", attrs...)
	}

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, status, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
		Hints:   errors.GetAllHints(err),
	})
}

// badRequest wraps a parsing failure so it maps to 400.
func badRequest(err error) error {
	return errors.Mark(err, errBadRequest)
}
