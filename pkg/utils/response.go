package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/political-reasoner/backend/internal/apperr"
	"github.com/political-reasoner/backend/internal/logger"
)

// StatusClientClosedRequest is the de-facto status for a caller that went away.
const StatusClientClosedRequest = 499

// MaxBodyBytes bounds JSON request bodies.
const MaxBodyBytes = 1 << 20

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// RespondJSON writes payload as JSON with the given status.
func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Log.Warnf("failed to encode response: %v", err)
	}
}

// RespondError writes a plain error with a code derived from status.
func RespondError(w http.ResponseWriter, status int, message string) {
	code := apperr.Internal
	if status < http.StatusInternalServerError {
		code = apperr.InvalidInput
	}
	RespondJSON(w, status, ErrorBody{Error: message, Code: string(code)})
}

// RespondAppError maps a tagged error to its HTTP status. Only the stable
// message reaches the caller; the cause is logged.
func RespondAppError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := StatusFor(kind)

	entry := logger.Log.WithField("path", r.URL.Path).WithField("code", kind).WithField("error", err.Error())
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Info("request rejected")
	}

	RespondJSON(w, status, ErrorBody{Error: apperr.Message(err), Code: string(kind)})
}

// StatusFor returns the HTTP status for an error kind.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.InvalidInput:
		return http.StatusBadRequest
	case apperr.UpstreamRateLimited:
		return http.StatusTooManyRequests
	case apperr.UpstreamError:
		return http.StatusBadGateway
	case apperr.UpstreamTimeout:
		return http.StatusGatewayTimeout
	case apperr.Canceled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSON reads a size-bounded JSON body into dst. Malformed bodies are
// reported as invalid input.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	const op = "utils.DecodeJSON"
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return apperr.New(apperr.InvalidInput, op, fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
		case errors.Is(err, io.EOF):
			return apperr.New(apperr.InvalidInput, op, "request body is required")
		default:
			return apperr.New(apperr.InvalidInput, op, "invalid request body")
		}
	}
	return nil
}
