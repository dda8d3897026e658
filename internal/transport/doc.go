// Package transport is the boundary between the protocol engine and the
// physical link to a toy.
//
// An Adapter establishes a Conn to a toy identified by address. A Conn writes
// byte chunks to named characteristics and delivers inbound chunks to
// subscribed callbacks, preserving byte order but not frame boundaries.
//
// Two adapters are provided:
//
//   - TCPAdapter talks to a BLE-to-TCP bridge process.
//   - PipeAdapter links directly to in-process Peripherals such as the
//     simulator in package sim.
package transport
