package observability

import (
	"net/http"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// PanicRecoveryMiddleware recovers request handler panics, logs them with the
// stack, and answers 500. A panicking request must never take the process
// down with it.
func PanicRecoveryMiddleware(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.WithFields(logrus.Fields{
						"panic":  rec,
						"stack":  string(debug.Stack()),
						"method": r.Method,
						"path":   r.URL.Path,
					}).Error("panic recovered in request handler")
					http.Error(w, "internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RecoverPanic recovers and logs a panic in a background goroutine. Call it
// in a defer statement; the panic is not re-raised.
func RecoverPanic(log *logrus.Logger, context string) {
	if r := recover(); r != nil {
		log.WithFields(logrus.Fields{
			"panic":   r,
			"stack":   string(debug.Stack()),
			"context": context,
		}).Error("panic recovered")
	}
}
