package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cuemby/orchestrator-core/pkg/storage"
)

// ErrorResponse is the JSON body returned for any non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, errCode, message string) {
	writeJSON(w, status, ErrorResponse{Error: errCode, Message: message, Code: status})
}

// writeStoreError maps the storage.Kind taxonomy to the §7 HTTP status
// mapping and writes the response.
func writeStoreError(w http.ResponseWriter, err error) {
	switch storage.KindOf(err) {
	case storage.KindNotFound:
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case storage.KindConflictingState:
		writeError(w, http.StatusConflict, "conflicting_state", err.Error())
	case storage.KindConstraintViolation:
		writeError(w, http.StatusBadRequest, "constraint_violation", err.Error())
	case storage.KindTransientBackend:
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	case storage.KindUnavailable:
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", "an internal error occurred")
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// queryInt parses an integer query parameter, returning fallback if
// absent or malformed.
func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
