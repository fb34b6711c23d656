package api

import (
	"log"
	"net/http"

	"github.com/strefethen/heos-hub-go/internal/apperrors"
)

// Handler adapts handlers that return errors into http.Handler.
type Handler func(w http.ResponseWriter, r *http.Request) error

// ServeHTTP implements http.Handler. Server-side failures (5xx, which includes
// players that did not answer) are logged with the request id.
func (handler Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := handler(w, r)
	if err == nil {
		return
	}
	appErr := apperrors.EnsureAppError(err)
	if appErr.StatusCode >= http.StatusInternalServerError {
		log.Printf("HTTP: %s %s [%s] %s: %s", r.Method, r.URL.Path, GetRequestID(r), appErr.Code, appErr.Message)
	}
	WriteError(w, r, appErr)
}

// RecovererMiddleware converts panics into 500 responses.
func RecovererMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				if recovered == http.ErrAbortHandler {
					panic(recovered)
				}
				log.Printf("HTTP: panic recovered on %s %s [%s]: %v", r.Method, r.URL.Path, GetRequestID(r), recovered)
				WriteError(w, r, apperrors.NewInternalError("Internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
