// Package httputil writes JSON responses and the shared error envelope.
package httputil

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	dErrors "pharmaudit/pkg/domain-errors"
)

// errorResponse is the wire shape of every error returned by the API.
type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Field       string `json:"field,omitempty"`
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a domain error to its HTTP status and envelope.
// Internal errors never leak their description.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeInternal
	resp := errorResponse{}
	if de, ok := dErrors.As(err); ok {
		code = de.Code
		resp.Description = de.Message
		resp.Field = de.Field
	}
	resp.Error = string(code)
	if code == dErrors.CodeInternal {
		resp.Description = ""
		resp.Field = ""
	}
	WriteJSON(w, dErrors.ToHTTPStatus(code), resp)
}

// DecodeJSON decodes a request body, mapping malformed input to a bad request.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return dErrors.New(dErrors.CodeBadRequest, "invalid request body")
	}
	return nil
}

// Preparable is a request body that normalizes and validates itself.
type Preparable interface {
	Normalize()
	Validate() error
}

// DecodeAndPrepare decodes the body into a new T, normalizes and validates it,
// and writes the error response itself. It returns false when the handler
// should stop.
func DecodeAndPrepare[T any, PT interface {
	*T
	Preparable
}](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (PT, bool) {
	req := PT(new(T))
	if err := DecodeJSON(r, req); err != nil {
		logger.WarnContext(ctx, "invalid request body",
			"request_id", requestID,
		)
		WriteError(w, err)
		return nil, false
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		logger.WarnContext(ctx, "request validation failed",
			"request_id", requestID,
			"error", err,
		)
		WriteError(w, err)
		return nil, false
	}
	return req, true
}
