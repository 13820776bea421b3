package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Saispecial/avika-backend-api/internal/flow"
	"github.com/Saispecial/avika-backend-api/internal/models"
)

// Pre-marshaled fallback responses to avoid runtime JSON encoding failures
var (
	fallbackErrorResponse []byte
)

// init validates that our fallback responses can be marshaled
func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal first so encoding errors surface before headers are written
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// validationErrors are reported to clients verbatim with 400.
var validationErrors = []error{
	models.ErrEmptySessionID,
	models.ErrSessionIDTooLong,
	models.ErrEmptyMessage,
	models.ErrMessageTooLong,
	models.ErrMessageIDTooLong,
	models.ErrHistoryTooLong,
	models.ErrUnsupportedAction,
	models.ErrMissingWellnessArg,
}

// statusForError maps service errors to an HTTP status and client message.
func statusForError(err error) (int, string) {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return http.StatusBadRequest, err.Error()
		}
	}
	switch {
	case errors.Is(err, flow.ErrTooManyConflicts):
		return http.StatusConflict, err.Error()
	case errors.Is(err, flow.ErrReplayUnavailable):
		return http.StatusConflict, err.Error()
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// writeError logs err and writes the mapped envelope.
func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, msg := statusForError(err)
	if status >= http.StatusInternalServerError {
		slog.Error(op+": request failed", "error", err, "requestID", requestIDFrom(r.Context()))
	} else {
		slog.Warn(op+": request rejected", "error", err, "status", status, "requestID", requestIDFrom(r.Context()))
	}
	writeJSONResponse(w, status, models.Error(msg))
}
