package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Default timeouts for the TCP adapter.
const (
	// DefaultDialTimeout bounds connecting to the adapter process.
	DefaultDialTimeout = 10 * time.Second

	// DefaultRequestTimeout bounds one request when ctx has no deadline.
	DefaultRequestTimeout = 10 * time.Second

	// DefaultScanTimeout is how long the adapter listens for advertisements.
	DefaultScanTimeout = 5 * time.Second

	endTimeout = time.Second
)

// ErrAdapter wraps ERROR replies from the adapter process.
var ErrAdapter = errors.New("transport: adapter reported error")

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// TCPConfig holds TCP adapter settings.
type TCPConfig struct {
	// Address of the adapter process, host:port.
	Address string

	// DialTimeout bounds connection setup. Default: 10 seconds.
	DialTimeout time.Duration

	// RequestTimeout bounds requests whose ctx has no deadline.
	// Default: 10 seconds.
	RequestTimeout time.Duration

	// ScanTimeout is passed to the adapter for SCAN and FIND.
	// Default: 5 seconds.
	ScanTimeout time.Duration
}

// TCPAdapter reaches toys through a BLE-to-TCP bridge process. Every toy
// link and every scan uses its own TCP connection.
type TCPAdapter struct {
	cfg    TCPConfig
	logger Logger
}

var _ Adapter = (*TCPAdapter)(nil)

// NewTCPAdapter applies defaults to cfg. It does not dial.
func NewTCPAdapter(cfg TCPConfig, logger Logger) *TCPAdapter {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = DefaultScanTimeout
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &TCPAdapter{cfg: cfg, logger: logger}
}

// Connect implements Adapter. It sends INIT for address and returns once the
// adapter has connected to the toy.
func (a *TCPAdapter) Connect(ctx context.Context, address string) (Conn, error) {
	l, err := a.open(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := l.request(ctx, OpInit, AppendCString(nil, address)); err != nil {
		l.close()
		return nil, fmt.Errorf("%w: init %s: %w", ErrConnection, address, err)
	}
	a.logger.Debug("tcp adapter linked", "adapter", a.cfg.Address, "toy", address)
	return l, nil
}

// Scan implements Adapter.
func (a *TCPAdapter) Scan(ctx context.Context) ([]Advertisement, error) {
	l, err := a.open(ctx)
	if err != nil {
		return nil, err
	}
	defer l.Disconnect() //nolint:errcheck // best-effort END

	body := binary.BigEndian.AppendUint32(nil, uint32(a.cfg.ScanTimeout.Milliseconds()))
	reply, err := l.request(ctx, OpScan, body)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return DecodeAdvertisements(reply)
}

// Find asks the adapter to look for one toy by name.
func (a *TCPAdapter) Find(ctx context.Context, name string) (Advertisement, error) {
	l, err := a.open(ctx)
	if err != nil {
		return Advertisement{}, err
	}
	defer l.Disconnect() //nolint:errcheck // best-effort END

	body := AppendCString(nil, name)
	body = binary.BigEndian.AppendUint32(body, uint32(a.cfg.ScanTimeout.Milliseconds()))
	reply, err := l.request(ctx, OpFind, body)
	if err != nil {
		if errors.Is(err, ErrAdapter) {
			return Advertisement{}, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return Advertisement{}, fmt.Errorf("find: %w", err)
	}
	var ad Advertisement
	if ad.Name, reply, err = CutCString(reply); err != nil {
		return Advertisement{}, err
	}
	if ad.Address, _, err = CutCString(reply); err != nil {
		return Advertisement{}, err
	}
	return ad, nil
}

func (a *TCPAdapter) open(ctx context.Context) (*tcpLink, error) {
	dialCtx, cancel := context.WithTimeout(ctx, a.cfg.DialTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", a.cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnection, a.cfg.Address, err)
	}
	l := &tcpLink{
		conn:           conn,
		reader:         bufio.NewReader(conn),
		requestTimeout: a.cfg.RequestTimeout,
		logger:         a.logger,
		subs:           make(map[string][]func([]byte)),
		done:           newCloseOnce(),
	}
	l.wg.Add(1)
	go l.receiveLoop()
	return l, nil
}

type tcpReply struct {
	op   byte
	body []byte
}

// tcpLink is one TCP connection to the adapter process. The protocol allows
// one outstanding request, so requests are serialised.
type tcpLink struct {
	conn           net.Conn
	reader         *bufio.Reader
	requestTimeout time.Duration
	logger         Logger

	reqMu sync.Mutex
	seq   byte

	waitMu  sync.Mutex
	waitSeq byte
	waiting chan tcpReply

	subMu sync.RWMutex
	subs  map[string][]func([]byte)

	done    *closeOnce
	closing atomic.Bool
	errMu   sync.Mutex
	err     error
	wg      sync.WaitGroup
}

func (l *tcpLink) request(ctx context.Context, op byte, body []byte) ([]byte, error) {
	l.reqMu.Lock()
	defer l.reqMu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.requestTimeout)
		defer cancel()
	}

	seq := l.seq
	l.seq++
	reply := make(chan tcpReply, 1)
	l.waitMu.Lock()
	l.waitSeq, l.waiting = seq, reply
	l.waitMu.Unlock()
	defer func() {
		l.waitMu.Lock()
		l.waiting = nil
		l.waitMu.Unlock()
	}()

	deadline, _ := ctx.Deadline()
	if err := l.conn.SetWriteDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set write deadline: %w", err)
	}
	if err := WriteTCPMessage(l.conn, TCPMessage{Op: op, Seq: seq, Body: body}); err != nil {
		return nil, err
	}

	select {
	case r := <-reply:
		if r.op == ReplyError {
			return nil, fmt.Errorf("%w: %s", ErrAdapter, r.body)
		}
		return r.body, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.done.Done():
		return nil, ErrClosed
	}
}

func (l *tcpLink) receiveLoop() {
	defer l.wg.Done()
	defer l.done.Close()

	for {
		msg, err := ReadTCPMessage(l.reader)
		if err != nil {
			if !l.closing.Load() {
				l.logger.Warn("tcp adapter link lost", "error", err)
				l.setErr(fmt.Errorf("%w: %w", ErrConnection, err))
			}
			return
		}

		switch msg.Op {
		case ReplyData:
			l.handleData(msg.Body)
		case ReplyOK, ReplyError:
			l.waitMu.Lock()
			ch := l.waiting
			match := ch != nil && l.waitSeq == msg.Seq
			l.waitMu.Unlock()
			if !match {
				l.logger.Debug("tcp adapter reply without request dropped", "seq", msg.Seq)
				continue
			}
			ch <- tcpReply{op: msg.Op, body: msg.Body}
		default:
			l.logger.Warn("tcp adapter sent unknown op", "op", msg.Op)
		}
	}
}

func (l *tcpLink) handleData(body []byte) {
	characteristic, data, err := CutCString(body)
	if err != nil {
		l.logger.Warn("tcp adapter data message malformed", "error", err)
		return
	}
	l.subMu.RLock()
	subs := l.subs[characteristic]
	l.subMu.RUnlock()
	for _, fn := range subs {
		fn(data)
	}
}

func (l *tcpLink) setErr(err error) {
	l.errMu.Lock()
	if l.err == nil {
		l.err = err
	}
	l.errMu.Unlock()
}

func (l *tcpLink) Write(ctx context.Context, characteristic string, data []byte) error {
	if len(data)+len(characteristic)+1 > MaxTCPBody {
		return fmt.Errorf("%w: %d bytes too large for adapter", ErrWrite, len(data))
	}
	body := append(AppendCString(make([]byte, 0, len(characteristic)+1+len(data)), characteristic), data...)
	if _, err := l.request(ctx, OpWrite, body); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return nil
}

func (l *tcpLink) Subscribe(ctx context.Context, characteristic string, fn func([]byte)) error {
	l.subMu.Lock()
	l.subs[characteristic] = append(l.subs[characteristic], fn)
	l.subMu.Unlock()
	if _, err := l.request(ctx, OpSetCallback, AppendCString(nil, characteristic)); err != nil {
		return fmt.Errorf("subscribe %s: %w", characteristic, err)
	}
	return nil
}

func (l *tcpLink) Done() <-chan struct{} { return l.done.Done() }

func (l *tcpLink) Err() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.err
}

// Disconnect sends END and closes the socket.
func (l *tcpLink) Disconnect() error {
	if l.closing.Swap(true) {
		l.wg.Wait()
		return nil
	}
	select {
	case <-l.done.Done():
	default:
		ctx, cancel := context.WithTimeout(context.Background(), endTimeout)
		if _, err := l.request(ctx, OpEnd, nil); err != nil {
			l.logger.Debug("tcp adapter end not acknowledged", "error", err)
		}
		cancel()
	}
	return l.close()
}

func (l *tcpLink) close() error {
	l.closing.Store(true)
	err := l.conn.Close()
	l.wg.Wait()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
