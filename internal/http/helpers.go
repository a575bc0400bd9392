package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cpiweights/internal/core"
	"cpiweights/internal/tables"
)

// monthParam parses a required YYYY-MM query parameter.
func monthParam(r *http.Request, name string) (core.Month, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return core.Month{}, fmt.Errorf("missing %q parameter", name)
	}
	m, err := core.ParseMonth(v)
	if err != nil {
		return core.Month{}, fmt.Errorf("invalid %q parameter: %w", name, err)
	}
	if err := m.Validate(); err != nil {
		return core.Month{}, fmt.Errorf("invalid %q parameter: %w", name, err)
	}
	return m, nil
}

// optionalMonthParam parses a YYYY-MM query parameter, falling back when the
// parameter is absent. A present-but-malformed value is still an error.
func optionalMonthParam(r *http.Request, name string, fallback core.Month) (core.Month, error) {
	if strings.TrimSpace(r.URL.Query().Get(name)) == "" {
		return fallback, nil
	}
	return monthParam(r, name)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorPayload struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorPayload{Error: msg})
}

// statusForError maps domain errors to HTTP status codes. Missing-cell errors
// mean the stored tables cannot support the request, not that the request was
// malformed, so they map to 422 rather than 400.
func statusForError(err error) int {
	var missingObs *core.MissingObservationError
	var missingAnchor *core.MissingAnchorWeightError
	switch {
	case errors.As(err, &missingObs), errors.As(err, &missingAnchor):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrInvalidMonth),
		errors.Is(err, core.ErrEmptyCategory),
		errors.Is(err, core.ErrNonPositiveIndex),
		errors.Is(err, core.ErrNegativeWeight):
		return http.StatusUnprocessableEntity
	case errors.Is(err, tables.ErrNoWeights):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// clientIP extracts the client address, honoring proxy headers.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		if i := strings.IndexByte(ip, ','); i >= 0 {
			return strings.TrimSpace(ip[:i])
		}
		return strings.TrimSpace(ip)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

// decodeJSON reads a JSON request body into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
