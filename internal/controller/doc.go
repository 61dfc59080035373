// Package controller implements the LightLink control loop: keep one
// broker session alive, hold one subscription, and turn the lights_state
// field of each inbound JSON message into a binary actuator state.
//
// # State machine
//
//	DISCONNECTED --connect ok--> CONNECTED --transport lost--> DISCONNECTED
//
// Connect failures are retried forever with a fixed backoff (5 s by
// default). Cancelling the context is the only other way out of
// EnsureConnected.
//
// # Commands
//
//	{"lights_state":"on"}      state = on
//	{"lights_state":"off"}     state = off
//	{"lights_state":"toggle"}  state = !state
//
// Anything else, including malformed JSON, payloads over the document
// capacity, or a missing field, leaves the state unchanged and is logged.
// No dispatch error is ever fatal to the loop.
//
// # Concurrency
//
// Dispatch runs only on the loop goroutine. The state is guarded by a
// mutex so diagnostics can read it through Snapshot from elsewhere.
package controller
