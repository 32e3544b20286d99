// Package requestid assigns every request a request ID for log correlation.
package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"memberdir/pkg/requestcontext"
)

// Header is the inbound header an upstream proxy may use to supply an ID.
const Header = "X-Request-ID"

// Middleware stores the request ID in the context and echoes it on the
// response. A blank or missing header gets a fresh uuid.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(Header)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		w.Header().Set(Header, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
