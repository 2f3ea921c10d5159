// Package gateway exposes the desk over HTTP and websockets.
//
// # Overview
//
// The gateway package is the session-facing surface of coven-desk. It
// translates HTTP requests into desk.Service calls and pushes appended
// messages to connected operator consoles over a websocket hub.
//
// # HTTP API
//
// Endpoints served by Routes() in api.go:
//
//   - GET  /api/health - liveness check (unauthenticated)
//   - POST /api/login - credential check, mints a JWT (unauthenticated)
//   - POST /api/messages - inbound customer traffic (unauthenticated; transports call this)
//   - GET  /api/conversations - list, with ?status= ?handler= ?agent= filters
//   - GET  /api/conversations/{id} - conversation snapshot
//   - GET  /api/conversations/{id}/messages - message tail, ?limit=
//   - POST /api/conversations/{id}/transfer - hand off to an agent
//   - POST /api/conversations/{id}/reply - agent reply (identity from token)
//   - POST /api/conversations/{id}/resolve - close out
//   - POST /api/conversations/{id}/reopen - back to active
//   - POST /api/conversations/{id}/read - zero the unread count
//   - GET  /api/conversations/{id}/suggest - least-loaded available agent
//   - GET  /api/agents - list, with ?availability= filter
//   - GET  /api/agents/load - active chat count per agent
//   - PUT  /api/agents/{id}/availability - availability update
//   - GET  /ws - websocket upgrade (?token= auth)
//
// Operator endpoints require a bearer JWT; requireAuth in middleware.go
// attaches the verified auth.Identity to the request context.
//
// # Error Mapping
//
// Desk sentinel errors map onto HTTP statuses in writeDeskError:
// not-found sentinels become 404, lifecycle conflicts 409, capacity and
// availability refusals 422, empty bodies 400.
//
// # Websocket Fan-out
//
// The Hub is registered as a message log delivery callback. Its Publish
// never blocks the append path: frames ride a buffered channel into the
// run loop, and a slow or full queue drops frames rather than messages.
//
//	hub := gateway.NewHub(logger)
//	go hub.Run()
//	log.OnAppended(hub.Publish)
//
// # Key Files
//
//   - api.go: request/response DTOs and HTTP handlers
//   - middleware.go: bearer-token middleware and identity lookup
//   - hub.go: websocket hub and /ws upgrade handler
//   - client.go: per-connection read/write pumps
package gateway
