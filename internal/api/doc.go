// Package api provides the HTTP REST API and WebSocket server for Hearth Core.
//
// It exposes the device registry, action dispatch, plugin management, voice
// commands, and real-time event streaming to user interfaces (mobile apps,
// web dashboards, wall panels).
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Authentication is JWT bearer token: POST /api/v1/auth/login exchanges the
// configured admin credentials for a signed token, and every protected route
// requires it in the Authorization header. WebSocket connections authenticate
// with a single-use ticket obtained from POST /api/v1/auth/ws-ticket, since
// browsers cannot set headers on WebSocket upgrade requests.
//
// Thread Safety: All methods are safe for concurrent use from multiple
// goroutines.
package api
