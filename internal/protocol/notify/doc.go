// Package notify delivers unsolicited toy messages to registered listeners.
//
// Inbound notifications are looked up and decoded on the connection's reader
// path, strictly in arrival order. Listener invocation is decoupled from that
// path by a bounded queue drained by a single worker, so a slow listener
// delays later deliveries but never frame decoding. When the queue is full
// the event is dropped and counted rather than blocking the reader.
//
// Listeners for one notification run in registration order and each receives
// the same decoded arguments.
package notify
