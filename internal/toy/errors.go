package toy

import "errors"

// Session errors.
var (
	// ErrAlreadyConnected is returned by Connect outside the Disconnected state.
	ErrAlreadyConnected = errors.New("toy: already connected or connecting")

	// ErrHandshake means the link came up but the toy could not be unlocked.
	ErrHandshake = errors.New("toy: handshake failed")

	// ErrNotSupported is returned for operations the kind lacks.
	ErrNotSupported = errors.New("toy: not supported by this kind")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("toy: closed")
)
