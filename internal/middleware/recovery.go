package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/google/uuid"

	"github.com/lbds137/tzurot/internal/httputil"
)

// Recovery converts handler panics into problem responses. Each panic is
// stamped with an incident id that appears in both the log entry and the
// response detail, so a user report can be matched to the logged stack.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					incident := uuid.NewString()
					logger.Error("panic recovered",
						"incident_id", incident,
						"method", r.Method,
						"path", r.URL.Path,
						"caller_id", httputil.GetCallerID(r),
						"panic", v,
						"stack", string(debug.Stack()),
					)

					httputil.RespondError(w, http.StatusInternalServerError,
						fmt.Sprintf("internal server error (incident %s)", incident))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
