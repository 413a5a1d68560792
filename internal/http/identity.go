package httpserver

import (
	"context"
	"net/http"
	"strconv"
)

type ctxKey string

const viewerCtxKey ctxKey = "viewer_id"

// viewerHeader carries the authenticated user id, set by the session gateway
// in front of this service. An absent or malformed header means an anonymous
// viewer, which the visibility filter treats as maximally restricted.
const viewerHeader = "X-User-ID"

// ViewerIdentity extracts the viewer id from the gateway header into the
// request context.
func ViewerIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw := r.Header.Get(viewerHeader); raw != "" {
			if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
				ctx := context.WithValue(r.Context(), viewerCtxKey, id)
				r = r.WithContext(ctx)
			}
		}
		next.ServeHTTP(w, r)
	})
}

// ViewerID returns the authenticated viewer id from the context, or nil for
// an anonymous request.
func ViewerID(ctx context.Context) *int64 {
	if id, ok := ctx.Value(viewerCtxKey).(int64); ok {
		return &id
	}
	return nil
}
