// Package influxdb writes LightLink telemetry to InfluxDB 2.x.
//
// Two measurements are produced:
//   - light_state: one point per dispatch (tags device_id, command, result;
//     fields on, value)
//   - session: one point per broker session transition (tags device_id,
//     event; fields attempt, reason_code)
//
// Telemetry is optional. Connect returns ErrDisabled when it is switched
// off, and writes on a closed client are dropped. Writes are batched and
// non-blocking; failures surface through SetOnError.
package influxdb
