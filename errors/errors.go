// Package httperrors renders API failures as a uniform JSON envelope.
// The internal cause goes to the logs; only the user message goes to
// the client.
package httperrors

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ErrorResponse is the JSON error envelope every endpoint returns.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// RespondWithError writes the envelope for status and logs the cause.
func RespondWithError(w http.ResponseWriter, logger *slog.Logger, status int, cause error, userMessage string) {
	if cause != nil {
		logger.Error("Request failed",
			slog.Int("status", status),
			slog.String("user_message", userMessage),
			slog.String("error", cause.Error()),
		)
	} else {
		logger.Warn("Request rejected",
			slog.Int("status", status),
			slog.String("user_message", userMessage),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(status),
		Message: userMessage,
		Status:  status,
	}); err != nil {
		// The status line is already on the wire, nothing left to do
		// for the client.
		logger.Error("Failed to encode error response", slog.String("error", err.Error()))
	}
}

// Convenience wrappers for the statuses the API actually returns.

func BadRequest(w http.ResponseWriter, logger *slog.Logger, cause error, message string) {
	RespondWithError(w, logger, http.StatusBadRequest, cause, message)
}

func NotFound(w http.ResponseWriter, logger *slog.Logger, cause error, message string) {
	RespondWithError(w, logger, http.StatusNotFound, cause, message)
}

func InternalServerError(w http.ResponseWriter, logger *slog.Logger, cause error, message string) {
	if message == "" {
		message = "An unexpected error occurred."
	}
	RespondWithError(w, logger, http.StatusInternalServerError, cause, message)
}
