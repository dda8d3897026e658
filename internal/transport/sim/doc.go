// Package sim provides simulated toys and a TCP adapter server.
//
// A Toy speaks the device side of the wire protocol for one kind: it answers
// commands from that kind's command table, can be told to stay silent or
// fail, and can push notifications. Toys plug into transport.PipeAdapter
// directly or are served over TCP by Server, which implements the same
// adapter protocol as a BLE-to-TCP bridge.
package sim
