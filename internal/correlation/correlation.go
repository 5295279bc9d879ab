// Package correlation generates and propagates per-request correlation
// IDs. One ID is minted (or read from the inbound header) at the
// boundary and carried through every log line, error record and
// webhook payload for that unit of work.
package correlation

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Header is the correlation header name, inbound and outbound.
const Header = "X-Correlation-ID"

type ctxKey struct{}

// NewID mints a fresh correlation id.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the entropy source does; fall back to
		// the time-seeded variant rather than dropping the id.
		return uuid.New().String()
	}
	return id.String()
}

// WithID returns a context carrying the given correlation id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the correlation id stored in ctx, or "" when the
// context never passed through the boundary.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// EnsureID returns the id in ctx, minting one when absent.
func EnsureID(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := NewID()
	return WithID(ctx, id), id
}

// Middleware resolves the correlation id for each request: the inbound
// header when present, a fresh id otherwise. The id is stored in the
// request context and echoed on the response header unconditionally.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(Header)
		if id == "" {
			id = NewID()
		}
		w.Header().Set(Header, id)
		next.ServeHTTP(w, r.WithContext(WithID(r.Context(), id)))
	})
}
