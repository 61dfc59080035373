// Package api implements the read-only diagnostics HTTP API and WebSocket
// state stream for LightLink.
//
// This package provides:
//   - GET /api/v1/health: component health (MQTT session, database, telemetry)
//   - GET /api/v1/state: the control loop snapshot
//   - GET /api/v1/journal: recent dispatch outcomes
//   - GET /api/v1/ws: a snapshot frame, then live light.state_changed and
//     session.changed frames, optionally narrowed with ?channels=
//
// The API never changes actuator state. Commands arrive only over MQTT.
//
// # Graceful Degradation
//
// The journal and telemetry are optional. When the journal is disabled the
// journal endpoint returns an empty page rather than an error.
package api
