// Package api implements the HTTP REST API and WebSocket server for the
// Z-Wave bridge.
//
// This package provides:
//   - Read access to the host entities and their change logs
//   - A command endpoint that feeds the Z-Wave command dispatcher
//   - Inspection of the learned mapping table and connected gateways
//   - A WebSocket hub that relays entity events in real time
//   - Prometheus metrics on /metrics
//
// # Security
//
// Every route except /api/v1/health and /metrics requires an HS256 access
// token issued by Gray Logic Core with the site's shared secret. The token's
// role selects the permissions (see package auth). WebSocket clients pass
// the token as ?token= on the upgrade request.
//
// # Lifecycle
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
