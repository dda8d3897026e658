package transport

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// pipeQueueSize bounds chunks waiting for delivery to host callbacks.
const pipeQueueSize = 256

// NotifyFunc sends data from a peripheral to the host on characteristic.
type NotifyFunc func(characteristic string, data []byte)

// Peripheral is the device end of an in-process link.
type Peripheral interface {
	// Name is the advertised name.
	Name() string

	// Address identifies the peripheral to PipeAdapter.Connect.
	Address() string

	// Attach starts a session. notify stays valid until Detach.
	Attach(notify NotifyFunc) error

	// HandleWrite receives one host write.
	HandleWrite(characteristic string, data []byte) error

	// Detach ends the session.
	Detach()
}

// PipeAdapter connects to in-process peripherals.
type PipeAdapter struct {
	mu          sync.Mutex
	peripherals map[string]Peripheral
}

var _ Adapter = (*PipeAdapter)(nil)

// NewPipeAdapter creates an adapter serving the given peripherals.
func NewPipeAdapter(peripherals ...Peripheral) *PipeAdapter {
	a := &PipeAdapter{peripherals: make(map[string]Peripheral)}
	for _, p := range peripherals {
		a.Add(p)
	}
	return a
}

// Add makes p reachable at its address.
func (a *PipeAdapter) Add(p Peripheral) {
	a.mu.Lock()
	a.peripherals[p.Address()] = p
	a.mu.Unlock()
}

// Scan implements Adapter.
func (a *PipeAdapter) Scan(_ context.Context) ([]Advertisement, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ads := make([]Advertisement, 0, len(a.peripherals))
	for _, p := range a.peripherals {
		ads = append(ads, Advertisement{Name: p.Name(), Address: p.Address()})
	}
	sort.Slice(ads, func(i, j int) bool { return ads[i].Name < ads[j].Name })
	return ads, nil
}

// Connect implements Adapter.
func (a *PipeAdapter) Connect(ctx context.Context, address string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	a.mu.Lock()
	p, ok := a.peripherals[address]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: no peripheral at %q", ErrConnection, address)
	}

	c := &pipeConn{
		peripheral: p,
		inbound:    make(chan chunk, pipeQueueSize),
		subs:       make(map[string][]func([]byte)),
		done:       newCloseOnce(),
	}
	if err := p.Attach(c.notify); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	c.wg.Add(1)
	go c.deliver()
	return c, nil
}

type chunk struct {
	characteristic string
	data           []byte
}

type pipeConn struct {
	peripheral Peripheral
	inbound    chan chunk

	mu   sync.RWMutex
	subs map[string][]func([]byte)

	done    *closeOnce
	errMu   sync.Mutex
	err     error
	wg      sync.WaitGroup
	detachO sync.Once
}

// notify is called by the peripheral; it blocks while the queue is full so
// no bytes are lost.
func (c *pipeConn) notify(characteristic string, data []byte) {
	buf := append([]byte(nil), data...)
	select {
	case c.inbound <- chunk{characteristic: characteristic, data: buf}:
	case <-c.done.Done():
	}
}

func (c *pipeConn) deliver() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done.Done():
			return
		case ch := <-c.inbound:
			c.mu.RLock()
			subs := c.subs[ch.characteristic]
			c.mu.RUnlock()
			for _, fn := range subs {
				fn(ch.data)
			}
		}
	}
}

func (c *pipeConn) Write(ctx context.Context, characteristic string, data []byte) error {
	select {
	case <-c.done.Done():
		return fmt.Errorf("%w: %w", ErrWrite, ErrClosed)
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrWrite, ctx.Err())
	default:
	}
	if err := c.peripheral.HandleWrite(characteristic, append([]byte(nil), data...)); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return nil
}

func (c *pipeConn) Subscribe(_ context.Context, characteristic string, fn func([]byte)) error {
	select {
	case <-c.done.Done():
		return ErrClosed
	default:
	}
	c.mu.Lock()
	c.subs[characteristic] = append(c.subs[characteristic], fn)
	c.mu.Unlock()
	return nil
}

func (c *pipeConn) Done() <-chan struct{} { return c.done.Done() }

func (c *pipeConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Drop simulates link loss: Done closes and Err reports cause.
func (c *pipeConn) Drop(cause error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = cause
	}
	c.errMu.Unlock()
	c.shutdown()
}

func (c *pipeConn) Disconnect() error {
	c.shutdown()
	return nil
}

func (c *pipeConn) shutdown() {
	c.done.Close()
	c.detachO.Do(c.peripheral.Detach)
	c.wg.Wait()
}

// Dropper is implemented by links that can simulate an unexpected loss.
type Dropper interface {
	Drop(cause error)
}
