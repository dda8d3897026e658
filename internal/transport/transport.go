package transport

import (
	"context"
	"errors"
)

// Transport errors.
var (
	// ErrConnection means the link could not be established (timeout, toy
	// not found, adapter unreachable).
	ErrConnection = errors.New("transport: connection failed")

	// ErrWrite means a write could not be delivered because the link is down.
	ErrWrite = errors.New("transport: write failed")

	// ErrClosed is returned by operations on a Conn after Disconnect.
	ErrClosed = errors.New("transport: connection closed")

	// ErrNotFound means no toy matched a scan filter.
	ErrNotFound = errors.New("transport: toy not found")
)

// Advertisement is a toy seen during a scan.
type Advertisement struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Adapter establishes links to toys.
type Adapter interface {
	// Connect opens a link to the toy at address.
	Connect(ctx context.Context, address string) (Conn, error)

	// Scan lists the toys visible to the adapter.
	Scan(ctx context.Context) ([]Advertisement, error)
}

// Conn is one open link to a toy.
//
// Callbacks passed to Subscribe run on the Conn's delivery goroutine, one
// chunk at a time, in arrival order. They must not call Write.
type Conn interface {
	// Write sends data to characteristic. Bytes of one Write arrive in order.
	Write(ctx context.Context, characteristic string, data []byte) error

	// Subscribe delivers chunks received on characteristic to fn until
	// Disconnect.
	Subscribe(ctx context.Context, characteristic string, fn func([]byte)) error

	// Done is closed when the link goes down for any reason.
	Done() <-chan struct{}

	// Err reports why Done was closed. It is nil after a voluntary Disconnect.
	Err() error

	// Disconnect releases the link. Safe to call more than once.
	Disconnect() error
}

// Finder is implemented by adapters that can search for one toy directly.
type Finder interface {
	Find(ctx context.Context, name string) (Advertisement, error)
}

// Find locates the toy advertising name, using the adapter's own search when
// it has one and a full scan otherwise.
func Find(ctx context.Context, a Adapter, name string) (Advertisement, error) {
	if f, ok := a.(Finder); ok {
		return f.Find(ctx, name)
	}
	ads, err := a.Scan(ctx)
	if err != nil {
		return Advertisement{}, err
	}
	for _, ad := range ads {
		if ad.Name == name {
			return ad, nil
		}
	}
	return Advertisement{}, ErrNotFound
}
