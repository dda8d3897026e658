// Package audit records every command executed against a toy through the
// MQTT bridge, the HTTP API or the CLI, and lists those records back with
// filtering and pagination.
package audit
