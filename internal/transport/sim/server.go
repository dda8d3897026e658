package sim

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/nerrad567/spherolink/internal/transport"
)

// Server speaks the TCP adapter protocol on behalf of simulated toys.
type Server struct {
	logger Logger

	mu    sync.Mutex
	toys  map[string]transport.Peripheral
	ln    net.Listener
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer creates a server for the given peripherals.
func NewServer(logger Logger, toys ...transport.Peripheral) *Server {
	if logger == nil {
		logger = noopLogger{}
	}
	s := &Server{
		logger: logger,
		toys:   make(map[string]transport.Peripheral),
		conns:  make(map[net.Conn]struct{}),
	}
	for _, t := range toys {
		s.Add(t)
	}
	return s
}

// Add registers p.
func (s *Server) Add(p transport.Peripheral) {
	s.mu.Lock()
	s.toys[p.Address()] = p
	s.mu.Unlock()
}

// Listen binds addr and serves in the background.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("sim: listen %s: %w", addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ln)
	}()
	return nil
}

// Addr returns the bound address, or "" before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Close stops accepting, drops every client and waits for handlers.
func (s *Server) Close() error {
	s.mu.Lock()
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Error("sim: accept failed", "error", err)
			}
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(conn)
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
		}()
	}
}

func (s *Server) advertisements() []transport.Advertisement {
	s.mu.Lock()
	defer s.mu.Unlock()
	ads := make([]transport.Advertisement, 0, len(s.toys))
	for _, p := range s.toys {
		ads = append(ads, transport.Advertisement{Name: p.Name(), Address: p.Address()})
	}
	sort.Slice(ads, func(i, j int) bool { return ads[i].Name < ads[j].Name })
	return ads
}

// session is one client connection.
type session struct {
	server *Server
	conn   net.Conn

	writeMu sync.Mutex

	subMu sync.RWMutex
	subs  map[string]bool

	toy transport.Peripheral
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()
	ss := &session{server: s, conn: conn, subs: make(map[string]bool)}
	defer ss.detach()

	for {
		msg, err := transport.ReadTCPMessage(conn)
		if err != nil {
			return
		}
		if !ss.handle(msg) {
			return
		}
	}
}

// handle processes one request and reports whether to keep reading.
func (ss *session) handle(msg transport.TCPMessage) bool {
	switch msg.Op {
	case transport.OpScan:
		ss.reply(msg.Seq, transport.EncodeAdvertisements(ss.server.advertisements()))

	case transport.OpFind:
		name, _, err := transport.CutCString(msg.Body)
		if err != nil {
			ss.fail(msg.Seq, err)
			break
		}
		for _, ad := range ss.server.advertisements() {
			if ad.Name == name {
				ss.reply(msg.Seq, transport.AppendCString(transport.AppendCString(nil, ad.Name), ad.Address))
				return true
			}
		}
		ss.fail(msg.Seq, fmt.Errorf("no toy named %q", name))

	case transport.OpInit:
		ss.init(msg)

	case transport.OpSetCallback:
		characteristic, _, err := transport.CutCString(msg.Body)
		if err != nil {
			ss.fail(msg.Seq, err)
			break
		}
		ss.subMu.Lock()
		ss.subs[characteristic] = true
		ss.subMu.Unlock()
		ss.reply(msg.Seq, nil)

	case transport.OpWrite:
		characteristic, data, err := transport.CutCString(msg.Body)
		if err != nil {
			ss.fail(msg.Seq, err)
			break
		}
		if ss.toy == nil {
			ss.fail(msg.Seq, errors.New("not initialised"))
			break
		}
		if err := ss.toy.HandleWrite(characteristic, data); err != nil {
			ss.fail(msg.Seq, err)
			break
		}
		ss.reply(msg.Seq, nil)

	case transport.OpEnd:
		ss.reply(msg.Seq, nil)
		return false

	default:
		ss.fail(msg.Seq, fmt.Errorf("unknown op 0x%02x", msg.Op))
	}
	return true
}

func (ss *session) init(msg transport.TCPMessage) {
	address, _, err := transport.CutCString(msg.Body)
	if err != nil {
		ss.fail(msg.Seq, err)
		return
	}
	if ss.toy != nil {
		ss.fail(msg.Seq, errors.New("already initialised"))
		return
	}
	ss.server.mu.Lock()
	p, ok := ss.server.toys[address]
	ss.server.mu.Unlock()
	if !ok {
		ss.fail(msg.Seq, fmt.Errorf("no toy at %q", address))
		return
	}
	if err := p.Attach(ss.forward); err != nil {
		ss.fail(msg.Seq, err)
		return
	}
	ss.toy = p
	ss.server.logger.Debug("sim: client linked", "toy", p.Name(), "remote", ss.conn.RemoteAddr().String())
	ss.reply(msg.Seq, nil)
}

func (ss *session) forward(characteristic string, data []byte) {
	ss.subMu.RLock()
	wanted := ss.subs[characteristic]
	ss.subMu.RUnlock()
	if !wanted {
		return
	}
	body := append(transport.AppendCString(nil, characteristic), data...)
	ss.write(transport.TCPMessage{Op: transport.ReplyData, Body: body})
}

func (ss *session) detach() {
	if ss.toy != nil {
		ss.toy.Detach()
		ss.toy = nil
	}
}

func (ss *session) reply(seq byte, body []byte) {
	ss.write(transport.TCPMessage{Op: transport.ReplyOK, Seq: seq, Body: body})
}

func (ss *session) fail(seq byte, err error) {
	ss.write(transport.TCPMessage{Op: transport.ReplyError, Seq: seq, Body: []byte(err.Error())})
}

func (ss *session) write(m transport.TCPMessage) {
	ss.writeMu.Lock()
	defer ss.writeMu.Unlock()
	if err := transport.WriteTCPMessage(ss.conn, m); err != nil {
		ss.server.logger.Debug("sim: write to client failed", "error", err)
	}
}
