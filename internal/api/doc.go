// Package api implements the HTTP REST API and WebSocket server for
// spherolink.
//
// This package provides:
//   - REST endpoints for toy registration, connection and command execution
//   - Raw frame execution for commands no table describes
//   - The command audit log and operator management
//   - Stored routines and their run history
//   - A WebSocket hub streaming connection state, notifications and
//     finished routine runs
//   - JWT bearer authentication with role permissions
//
// # Routes
//
// All routes live under /api/v1. Only /health, /auth/login and /ws are
// reachable without a bearer token; /ws takes a single-use ticket from
// POST /auth/ws-ticket instead, so tokens never appear in URLs.
//
//	GET    /toys                          toy:read
//	POST   /toys                          toy:manage
//	GET    /toys/{name}                   toy:read
//	PATCH  /toys/{name}                   toy:manage
//	DELETE /toys/{name}                   toy:manage
//	POST   /toys/{name}/connect           toy:operate
//	POST   /toys/{name}/disconnect        toy:operate
//	GET    /toys/{name}/commands          toy:read
//	POST   /toys/{name}/commands/{cmd}    toy:operate
//	POST   /toys/{name}/raw               toy:operate
//	GET    /routines                      toy:read
//	POST   /routines                      toy:manage
//	GET    /routines/{name}               toy:read
//	PUT    /routines/{name}               toy:manage
//	DELETE /routines/{name}               toy:manage
//	POST   /routines/{name}/run           toy:operate
//	GET    /routines/{name}/runs          toy:read
//	GET    /audit                         audit:read
//
// The routine routes exist only when Deps carries a routine registry and
// engine. The browser console is served under /panel/ when enabled.
//
// Errors share one envelope: {"error":{"status":..,"code":..,"message":..}}.
//
// The server follows the same lifecycle as other components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
