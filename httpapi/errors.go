package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"birthday_bot/admission"
	"birthday_bot/devicepool"
	"birthday_bot/generation"
	"birthday_bot/imagegen"
	"birthday_bot/speech"
)

// ErrorResponse is the body of every non-2xx JSON answer.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: status})
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, admission.ErrAllDevicesBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, speech.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, generation.ErrEmptyText),
		errors.Is(err, imagegen.ErrInvalidParams),
		errors.Is(err, imagegen.ErrInvalidPrompt),
		errors.Is(err, speech.ErrUnsupportedFormat),
		errors.Is(err, speech.ErrAudioTooLong),
		errors.Is(err, speech.ErrEmptyAudio):
		return http.StatusBadRequest
	case errors.Is(err, speech.ErrEmptyTranscription):
		return http.StatusUnprocessableEntity
	case errors.Is(err, devicepool.ErrAcquireTimeout),
		errors.Is(err, devicepool.ErrPoolClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
