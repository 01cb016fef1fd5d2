package web

// Request parsing helpers shared by the handlers.

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// maxJSONBody bounds request bodies of the JSON endpoints (1MB).
const maxJSONBody = 1 << 20

// parseIDParam parses a positive integer path parameter.
func parseIDParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, badRequest("%s must be a positive integer, got %q", name, raw)
	}
	return id, nil
}

// parseIntQuery parses an integer query parameter, falling back to
// defaultVal when it is absent. Range checks are left to the service.
func parseIntQuery(r *http.Request, name string, defaultVal int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("%s must be an integer, got %q", name, raw)
	}
	return n, nil
}

// parseBoolQuery parses an optional boolean query parameter.
func parseBoolQuery(r *http.Request, name string) (*bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, badRequest("%s must be true or false, got %q", name, raw)
	}
	return &b, nil
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("malformed JSON body: %v", err)
	}
	return nil
}
