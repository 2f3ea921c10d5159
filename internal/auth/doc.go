// Package auth provides JWT authentication for the desk API.
//
// # Tokens
//
// Agents log in with their directory credentials and receive an HS256
// JWT carrying their agent id (sub) and role. JWTVerifier both mints
// and verifies tokens:
//
//	verifier := auth.NewJWTVerifier(secret)
//	token, err := verifier.Generate("ada", "support", 12*time.Hour)
//	identity, err := verifier.Verify(token)
//
// # Request Identity
//
// Middleware (or the gateway's own wrapper) verifies the bearer token
// and attaches the Identity to the request context; handlers retrieve
// it with FromContext. The websocket upgrade carries the token in the
// query string instead, since browsers cannot set headers on dials.
package auth
