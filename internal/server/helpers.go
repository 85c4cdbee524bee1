package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bobmcallan/papertrade/internal/common"
	"github.com/bobmcallan/papertrade/internal/models"
	"github.com/bobmcallan/papertrade/internal/services/ledger"
)

// ErrorResponse is the standard error format for REST API responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: message})
}

// WriteErrorWithCode writes a JSON error response with an error code.
func WriteErrorWithCode(w http.ResponseWriter, statusCode int, message, code string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: message, Code: code})
}

// WritePNG writes raw PNG bytes.
func WritePNG(w http.ResponseWriter, png []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// statusForKind maps a domain error kind to its HTTP status.
var statusForKind = map[string]int{
	"invalid_input":       http.StatusBadRequest,
	"unknown_symbol":      http.StatusNotFound,
	"user_not_found":      http.StatusNotFound,
	"username_taken":      http.StatusConflict,
	"invalid_credentials": http.StatusUnauthorized,
	"insufficient_funds":  http.StatusUnprocessableEntity,
	"insufficient_shares": http.StatusUnprocessableEntity,
}

// writeServiceError maps a service error to a response. Domain errors carry
// their message and kind. A failed valuation is a 502 whatever its cause.
// Anything else is logged and reported generically.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *common.Logger, err error) {
	kind := models.ErrorKind(err)
	if kind == "quote_unavailable" {
		logger.WithCorrelationID(common.CorrelationIDFromContext(r.Context())).Warn().
			Err(err).
			Str("path", r.URL.Path).
			Msg("Valuation failed")
		WriteErrorWithCode(w, http.StatusBadGateway, "A price for one of your holdings is unavailable", kind)
		return
	}
	if status, ok := statusForKind[kind]; ok {
		WriteErrorWithCode(w, status, err.Error(), kind)
		return
	}
	logger.WithCorrelationID(common.CorrelationIDFromContext(r.Context())).Error().
		Err(err).
		Str("path", r.URL.Path).
		Msg("Request failed")
	WriteErrorWithCode(w, http.StatusInternalServerError, "Internal server error", "internal")
}

// RequireMethod validates the HTTP method and returns true if it matches.
// If it doesn't match, it writes a 405 response and returns false.
func RequireMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}

// DecodeJSON reads and decodes JSON from the request body into v.
// Returns false and writes a 400 error if decoding fails.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil {
		WriteErrorWithCode(w, http.StatusBadRequest, "Request body is required", "invalid_input")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, "Invalid JSON: "+err.Error(), "invalid_input")
		return false
	}
	return true
}

// ParseSharesParam accepts shares as either a JSON number or a JSON string,
// since form-driven clients send strings. Either way the value must be a
// plain positive integer.
func ParseSharesParam(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("%w: shares is required", models.ErrInvalidInput)
	}

	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("%w: shares is malformed", models.ErrInvalidInput)
		}
	} else {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return 0, fmt.Errorf("%w: shares must be a number", models.ErrInvalidInput)
		}
		s = n.String()
	}
	return ledger.ParseShares(s)
}

// PathParam extracts a path parameter from the URL path.
// For a pattern like /api/quote/{symbol}, calling PathParam(r, "/api/quote/", "")
// extracts the {symbol} part.
func PathParam(r *http.Request, prefix, suffix string) string {
	path := r.URL.Path
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	rest := path[len(prefix):]
	if suffix != "" {
		idx := strings.Index(rest, suffix)
		if idx < 0 {
			return rest
		}
		return rest[:idx]
	}
	if idx := strings.Index(rest, "/"); idx >= 0 {
		return rest[:idx]
	}
	return rest
}

// errUnauthenticated is reported when a protected route has no identity.
var errUnauthenticated = errors.New("authentication required")
