// Package command holds the protocol tables: which commands and
// notifications each kind of toy understands, how arguments are encoded into
// payload bytes and how reply and notification payloads decode into typed
// values.
//
// Tables are built once at package initialisation and never mutated, so they
// are safe for concurrent use by any number of sessions.
//
// Decode rules are selected by device kind, never by inspecting payload
// length. BOLT+ and the classic Sphero report collisions with layouts that
// differ from the other V2 toys; each layout has its own rule and its own
// fixed-byte test.
//
// Example:
//
//	table := command.For(command.KindMini)
//	desc, ok := table.Command("drive_with_heading")
//	if !ok {
//	    return command.ErrUnknownCommand
//	}
//	payload, err := desc.Encode(100, 90, 0)
package command
