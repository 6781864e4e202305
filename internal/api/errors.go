package api

import (
	"errors"
	"net/http"

	"github.com/tutu-network/escrow/internal/domain"
)

// statusFor maps an error's kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrTaskNotFound), errors.Is(err, domain.ErrEvidenceNotFound):
		return http.StatusNotFound
	}
	switch domain.KindOf(err) {
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindState:
		return http.StatusConflict
	case domain.KindTiming:
		return http.StatusTooEarly
	case domain.KindValidation:
		return http.StatusUnprocessableEntity
	case domain.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Message   string `json:"message"`
	Kind      string `json:"kind"`
	Retryable bool   `json:"retryable"`
}

// writeError writes a JSON error response derived from err.
func writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	writeJSON(w, statusFor(err), map[string]errorBody{
		"error": {Message: err.Error(), Kind: kind.String(), Retryable: kind.Retryable()},
	})
}

// badRequest reports a request the server could not parse.
func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]errorBody{
		"error": {Message: msg, Kind: domain.KindValidation.String()},
	})
}
