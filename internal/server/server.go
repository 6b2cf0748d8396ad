// Package server implements a controller emulator: an EtherNet/IP endpoint
// serving Read Tag and Write Tag over a symbolic tag table, with optional
// fault injection. It backs the emulate command and the integration tests.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/georgelake2/plcaudit/internal/config"
	"github.com/georgelake2/plcaudit/internal/enip"
	"github.com/georgelake2/plcaudit/internal/logging"
)

// Server is the emulator. Create it with New or NewWithTags, then Start.
type Server struct {
	listen string
	tags   *TagTable
	logger *logging.Logger

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	group    errgroup.Group

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	offline bool

	handles  atomic.Uint32
	requests atomic.Uint64
	faults   faultState
}

// New builds an emulator from configuration.
func New(cfg config.EmulatorConfig, logger *logging.Logger) (*Server, error) {
	tags, err := LoadTags(cfg.Tags)
	if err != nil {
		return nil, err
	}
	return NewWithTags(cfg.Listen, tags, logger), nil
}

// NewWithTags serves an existing table on listen (host:port, port 0 picks one).
func NewWithTags(listen string, tags *TagTable, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Server{
		listen: listen,
		tags:   tags,
		logger: logger,
		conns:  make(map[net.Conn]struct{}),
	}
	s.handles.Store(0x1000)
	return s
}

// Start binds the listener and begins accepting connections.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.listen, err)
	}
	s.listener = ln
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.logger.Info("Emulator listening on %s with %d tags", ln.Addr(), s.tags.Len())
	s.group.Go(s.acceptLoop)
	return nil
}

// Serve runs the emulator until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

// Addr returns the bound address after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Tags() *TagTable { return s.tags }

// Requests returns the number of SendRRData requests served.
func (s *Server) Requests() uint64 { return s.requests.Load() }

// SetFaults replaces the fault configuration and restarts its counters.
func (s *Server) SetFaults(f Faults) { s.faults.set(f) }

// SetOffline drops every connection and refuses new ones while offline.
func (s *Server) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
	if offline {
		for c := range s.conns {
			_ = c.Close()
		}
		s.logger.Info("Emulator offline")
	} else {
		s.logger.Info("Emulator online")
	}
}

// Connections returns the number of open client connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Stop closes the listener and every connection, then waits for the
// connection handlers to return.
func (s *Server) Stop() error {
	if s.listener == nil {
		return nil
	}
	s.cancel()
	err := s.listener.Close()
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	if werr := s.group.Wait(); werr != nil && err == nil {
		err = werr
	}
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	s.logger.Info("Emulator stopped")
	return err
}

func (s *Server) nextHandle() uint32 {
	for {
		if h := s.handles.Add(1); h != 0 {
			return h
		}
	}
}

func (s *Server) acceptLoop() error {
	for {
		c, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		if !s.track(c) {
			_ = c.Close()
			continue
		}
		s.group.Go(func() error {
			s.serveConn(c)
			return nil
		})
	}
}

func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline || s.ctx.Err() != nil {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	_ = c.Close()
}

// serveConn reassembles frames from the stream and answers each in order.
func (s *Server) serveConn(nc net.Conn) {
	defer s.untrack(nc)
	c := &conn{remote: nc.RemoteAddr().String()}
	s.logger.Verbose("Connection from %s", c.remote)

	buffer := make([]byte, 0, 4096)
	readBuf := make([]byte, 4096)
	for {
		n, err := nc.Read(readBuf)
		if err != nil {
			s.logger.Verbose("Connection from %s closed: %v", c.remote, err)
			return
		}
		buffer = append(buffer, readBuf[:n]...)
		frames, rest := enip.SplitFrames(buffer)
		buffer = rest

		for _, f := range frames {
			reply, act := s.handleFrame(c, f)
			if act == actionClose {
				return
			}
			if reply == nil {
				continue
			}
			if f.Header.Command == enip.CommandSendRRData {
				fault := s.faults.next()
				if fault.close {
					s.logger.Verbose("Fault: closing %s", c.remote)
					return
				}
				if fault.drop {
					s.logger.Verbose("Fault: dropping reply to %s", c.remote)
					continue
				}
			}
			s.logger.LogHex("emulator >> "+enip.CommandName(f.Header.Command), reply)
			if _, err := nc.Write(reply); err != nil {
				s.logger.Warn("Write to %s failed: %v", c.remote, err)
				return
			}
		}
	}
}
