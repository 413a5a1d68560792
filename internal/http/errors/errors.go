// Package errors holds the HTTP error responders: the caller's error is
// logged with the chi request id, the client gets a safe message.
package errors

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// InternalError logs the error and answers 500 with a generic body, so
// provider responses and SQL never leak to the client.
func InternalError(w http.ResponseWriter, r *http.Request, err error, message string) {
	log.Printf("[ERROR] %s%s: %v", reqPrefix(r), message, err)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

// BadRequestError logs the error and answers 400 with clientMessage, which
// must be safe to show (it names the malformed field, not the raw error).
func BadRequestError(w http.ResponseWriter, r *http.Request, err error, clientMessage string) {
	log.Printf("[WARN] %sbad request: %v", reqPrefix(r), err)
	http.Error(w, clientMessage, http.StatusBadRequest)
}

func reqPrefix(r *http.Request) string {
	if requestID := middleware.GetReqID(r.Context()); requestID != "" {
		return "RequestID=" + requestID + ": "
	}
	return ""
}
