// Package toy is the per-connection protocol session.
//
// A Toy owns one transport link at a time and drives it through the states
// Disconnected, Connecting and Connected. While connected, a single reader
// path feeds inbound chunks through the frame decoder in arrival order,
// resolving responses through the correlator and handing everything else to
// the notification dispatcher.
//
// Boundary operations:
//
//   - Connect / Disconnect
//   - Execute sends a raw command; Call and CallNamed send a named command
//     from the kind's table and decode its result
//   - AddListener / RemoveListener subscribe to notifications
//
// Listener registrations survive reconnection. While disconnected they are
// inert.
package toy
