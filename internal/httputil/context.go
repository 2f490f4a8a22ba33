package httputil

import (
	"context"
	"net/http"
)

// Context key type to avoid collisions
type contextKey string

const callerIDKey contextKey = "callerID"

// WithCallerID adds the authenticated caller ID to the request context
func WithCallerID(r *http.Request, callerID string) *http.Request {
	ctx := context.WithValue(r.Context(), callerIDKey, callerID)
	return r.WithContext(ctx)
}

// GetCallerID retrieves the caller ID from context, empty if not found
func GetCallerID(r *http.Request) string {
	callerID, _ := r.Context().Value(callerIDKey).(string)
	return callerID
}
