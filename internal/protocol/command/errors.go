package command

import "errors"

// Lookup errors. Encoding and decoding failures wrap packet.ErrEncoding and
// packet.ErrDecoding.
var (
	// ErrUnknownKind is returned when a kind name is not recognised.
	ErrUnknownKind = errors.New("command: unknown toy kind")

	// ErrUnknownCommand is returned when a kind has no command by that name.
	ErrUnknownCommand = errors.New("command: unknown command")

	// ErrUnknownNotification is returned when a kind has no notification by
	// that name.
	ErrUnknownNotification = errors.New("command: unknown notification")
)
