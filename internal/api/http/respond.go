package http

import (
	"encoding/json"
	"log"
	nethttp "net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/classtrack/classtrack-portal/internal/apperr"
)

func writeJSON(w nethttp.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto the JSON error envelope. Invariant violations are
// logged with the request id and answered with a generic message.
func writeError(w nethttp.ResponseWriter, r *nethttp.Request, err error) {
	reqID := middleware.GetReqID(r.Context())
	status := apperr.Status(err)
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (request %s): %v", reqID, err)
		msg = "internal error"
	}
	writeJSON(w, status, map[string]any{
		"error":     msg,
		"code":      apperr.CodeOf(err),
		"requestId": reqID,
	})
}

func errMissing(field string) error { return apperr.Validation("%s required", field) }

func decodeBody(w nethttp.ResponseWriter, r *nethttp.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, r, apperr.Validation("bad json: %v", err))
		return false
	}
	return true
}
