package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/quillhq/quill/internal/chat"
	"github.com/quillhq/quill/internal/document"
)

// userHeader carries the requester identity. There is no authentication in
// front of it; callers are trusted to set it honestly.
const userHeader = "X-User-ID"

// writeJSON writes a JSON response. Encoding failures after WriteHeader
// cannot reach the client and are only logged.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// writeDomainError maps domain sentinel errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, document.ErrNotFound), errors.Is(err, chat.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, document.ErrEmptyContent), errors.Is(err, chat.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, document.ErrVersionConflict), errors.Is(err, document.ErrDuplicateVersion):
		writeError(w, http.StatusConflict, "version_conflict", err.Error())
	case errors.Is(err, chat.ErrGeneration):
		writeError(w, http.StatusBadGateway, "generation_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	}
}

// requesterID returns the caller identity, which may be empty for read-only
// access to public documents.
func requesterID(r *http.Request) string {
	return r.Header.Get(userHeader)
}

// requireUser rejects requests without a caller identity.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := requesterID(r)
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing_user", "the "+userHeader+" header is required")
		return "", false
	}
	return id, true
}

// decodeJSON decodes a request body into dst with unknown fields rejected.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
