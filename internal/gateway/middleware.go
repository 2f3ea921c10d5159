// ABOUTME: Bearer-token middleware guarding the operator API endpoints.
// ABOUTME: Verified identities ride the request context for handlers to read.

package gateway

import (
	"net/http"

	"github.com/2389/coven-desk/internal/auth"
)

// requireAuth wraps an operator endpoint with the bearer-token
// middleware. The verified identity is attached to the request context;
// handlers that need to know which agent is calling use identityFrom.
func (g *Gateway) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return auth.Middleware(g.verifier)(next).ServeHTTP
}

// identityFrom returns the authenticated identity attached by requireAuth.
func identityFrom(r *http.Request) (auth.Identity, bool) {
	return auth.FromContext(r.Context())
}
