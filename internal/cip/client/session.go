package client

// EtherNet/IP session: registration and SendRRData transactions

import (
	"context"
	"errors"
	"fmt"

	"github.com/georgelake2/plcaudit/internal/enip"
	"github.com/georgelake2/plcaudit/internal/logging"
)

// ErrTransport marks failures of the underlying connection.
var ErrTransport = errors.New("transport failure")

// ErrProtocol marks replies that are well-framed but unacceptable.
var ErrProtocol = errors.New("protocol failure")

var (
	ErrNotConnected      = errors.New("session not connected")
	ErrNotRegistered     = errors.New("session not registered")
	ErrZeroSessionHandle = fmt.Errorf("%w: target returned session handle 0", ErrProtocol)
)

// EncapStatusError is a reply with a nonzero encapsulation status.
type EncapStatusError struct {
	Command uint16
	Status  uint32
}

func (e *EncapStatusError) Error() string {
	return fmt.Sprintf("%s reply status 0x%08X", enip.CommandName(e.Command), e.Status)
}

func (e *EncapStatusError) Is(target error) bool {
	return target == ErrProtocol
}

// Tracer observes every frame written to and read from the wire.
type Tracer interface {
	Outbound(frame []byte)
	Inbound(frame []byte)
}

// Session is one EtherNet/IP session with one controller.
//
// A Session has no locking around transactions: exactly one goroutine may
// drive it at a time. Hand it from the startup code to the monitor, never
// share it.
type Session struct {
	addr      string
	transport Transport
	handle    uint32
	logger    *logging.Logger
	tracer    Tracer
}

// Option configures a Session.
type Option func(*Session)

// WithTransport replaces the default TCP transport.
func WithTransport(t Transport) Option {
	return func(s *Session) { s.transport = t }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithTracer records each frame, e.g. to a pcap file.
func WithTracer(tr Tracer) Option {
	return func(s *Session) { s.tracer = tr }
}

// NewSession creates an unconnected, unregistered session for addr (host:port).
func NewSession(addr string, opts ...Option) *Session {
	s := &Session{addr: addr}
	for _, opt := range opts {
		opt(s)
	}
	if s.transport == nil {
		s.transport = NewTCPTransport(0)
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	return s
}

// Addr returns the controller address.
func (s *Session) Addr() string { return s.addr }

// Handle returns the registered session handle, 0 when unregistered.
func (s *Session) Handle() uint32 { return s.handle }

// IsOpen reports whether the session can carry transactions.
func (s *Session) IsOpen() bool {
	return s.handle != 0 && s.transport.IsConnected()
}

// Connect opens the transport. On failure the session stays closed.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.transport.Connect(ctx, s.addr); err != nil {
		_ = s.Close()
		return fmt.Errorf("connect %s: %w: %w", s.addr, ErrTransport, err)
	}
	s.logger.Verbose("Connected to %s", s.addr)
	return nil
}

// RegisterSession negotiates a session handle on a connected transport.
func (s *Session) RegisterSession(ctx context.Context) error {
	if !s.transport.IsConnected() {
		return ErrNotConnected
	}
	h, _, err := s.exchange(ctx, enip.CommandRegisterSession, 0, enip.RegisterSessionBody)
	if err != nil {
		return fmt.Errorf("register session: %w", err)
	}
	if h.SessionHandle == 0 {
		_ = s.Close()
		return fmt.Errorf("register session: %w", ErrZeroSessionHandle)
	}
	s.handle = h.SessionHandle
	s.logger.Info("Registered session 0x%08X with %s", s.handle, s.addr)
	return nil
}

// Open connects and registers. A registration failure closes the transport.
func (s *Session) Open(ctx context.Context) error {
	if err := s.Connect(ctx); err != nil {
		return err
	}
	if err := s.RegisterSession(ctx); err != nil {
		_ = s.Close()
		return err
	}
	return nil
}

// Transact sends a SendRRData request carrying body (a CPF structure) and
// returns the reply body. A transport failure closes the session because
// the stream can no longer be trusted to be frame-aligned.
func (s *Session) Transact(ctx context.Context, body []byte) ([]byte, error) {
	if !s.transport.IsConnected() {
		return nil, ErrNotConnected
	}
	if s.handle == 0 {
		return nil, ErrNotRegistered
	}
	_, reply, err := s.exchange(ctx, enip.CommandSendRRData, s.handle, body)
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// Close drops the transport and forgets the session handle. It may be
// called any number of times.
func (s *Session) Close() error {
	s.handle = 0
	if !s.transport.IsConnected() {
		return nil
	}
	err := s.transport.Disconnect()
	s.logger.Verbose("Closed session with %s", s.addr)
	return err
}

func (s *Session) exchange(ctx context.Context, command uint16, handle uint32, body []byte) (enip.Header, []byte, error) {
	frame, err := enip.BuildFrame(command, handle, body)
	if err != nil {
		return enip.Header{}, nil, err
	}
	s.logger.LogHex(">> "+enip.CommandName(command), frame)
	if s.tracer != nil {
		s.tracer.Outbound(frame)
	}
	if err := s.transport.Send(ctx, frame); err != nil {
		_ = s.Close()
		return enip.Header{}, nil, fmt.Errorf("send %s: %w: %w", enip.CommandName(command), ErrTransport, err)
	}

	h, reply, err := s.transport.ReceiveFrame(ctx)
	if err != nil {
		_ = s.Close()
		return enip.Header{}, nil, fmt.Errorf("receive %s: %w: %w", enip.CommandName(command), ErrTransport, err)
	}
	if s.tracer != nil || s.logger.GetLevel() >= logging.LogLevelDebug {
		raw := append(h.Encode(nil), reply...)
		s.logger.LogHex("<< "+enip.CommandName(h.Command), raw)
		if s.tracer != nil {
			s.tracer.Inbound(raw)
		}
	}

	if h.Command != command {
		return h, nil, fmt.Errorf("%w: expected %s reply, got %s", ErrProtocol, enip.CommandName(command), enip.CommandName(h.Command))
	}
	if h.Status != enip.StatusSuccess {
		return h, nil, &EncapStatusError{Command: h.Command, Status: h.Status}
	}
	return h, reply, nil
}
