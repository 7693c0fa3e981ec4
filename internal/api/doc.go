// Package api implements the HTTP REST API and WebSocket server for drivelink.
//
// This package provides:
//   - REST endpoints for scan, connect, disconnect and connection status
//   - Console command, property read/write and protected operations
//     (save, save and reboot, erase, reboot)
//   - The connection journal
//   - A WebSocket hub that pushes every connection transition on the
//     "connection.state_changed" channel and the resulting status on
//     "connection.status"
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// All routes live under /api. Errors use one JSON shape:
//
//	{"status": 404, "code": "no_device", "message": "no device found"}
//
// The server needs a connection.Manager and a logger; the journal and an
// external hub are optional.
package api
