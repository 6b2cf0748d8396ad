package client

// Stream transport for encapsulation frames

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/georgelake2/plcaudit/internal/enip"
)

// Transport carries whole encapsulation frames over a byte stream.
type Transport interface {
	Connect(ctx context.Context, addr string) error
	Disconnect() error
	// Send writes the whole frame or fails.
	Send(ctx context.Context, frame []byte) error
	// ReceiveFrame reads one header and exactly the body length it declares.
	ReceiveFrame(ctx context.Context) (enip.Header, []byte, error)
	IsConnected() bool
}

// TCPTransport implements Transport over TCP
type TCPTransport struct {
	conn        net.Conn
	connMu      sync.RWMutex
	dialTimeout time.Duration
	ioTimeout   time.Duration
}

var _ Transport = (*TCPTransport)(nil)

// NewTCPTransport creates a TCP transport. A zero ioTimeout leaves reads
// and writes unbounded unless the context carries a deadline.
func NewTCPTransport(ioTimeout time.Duration) *TCPTransport {
	return &TCPTransport{dialTimeout: 5 * time.Second, ioTimeout: ioTimeout}
}

// Connect establishes a TCP connection
func (t *TCPTransport) Connect(ctx context.Context, addr string) error {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.conn != nil {
		return fmt.Errorf("already connected")
	}

	dialer := net.Dialer{
		Timeout:   t.dialTimeout,
		KeepAlive: 15 * time.Second,
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial TCP: %w", err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	t.conn = conn
	return nil
}

// Disconnect closes the TCP connection. It is safe to call when not connected.
func (t *TCPTransport) Disconnect() error {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// Send writes frame, looping until every byte is accepted.
func (t *TCPTransport) Send(ctx context.Context, frame []byte) error {
	t.connMu.RLock()
	defer t.connMu.RUnlock()

	if t.conn == nil {
		return fmt.Errorf("not connected")
	}
	stop, err := t.arm(ctx)
	if err != nil {
		return err
	}
	defer stop()

	for sent := 0; sent < len(frame); {
		n, err := t.conn.Write(frame[sent:])
		if err != nil {
			return t.ctxErr(ctx, fmt.Errorf("write: %w", err))
		}
		if n <= 0 {
			return fmt.Errorf("write: no progress after %d of %d bytes", sent, len(frame))
		}
		sent += n
	}
	return nil
}

// ReceiveFrame reads a full header and its declared body.
func (t *TCPTransport) ReceiveFrame(ctx context.Context) (enip.Header, []byte, error) {
	t.connMu.RLock()
	defer t.connMu.RUnlock()

	if t.conn == nil {
		return enip.Header{}, nil, fmt.Errorf("not connected")
	}
	stop, err := t.arm(ctx)
	if err != nil {
		return enip.Header{}, nil, err
	}
	defer stop()

	raw := make([]byte, enip.HeaderSize)
	if _, err := io.ReadFull(t.conn, raw); err != nil {
		return enip.Header{}, nil, t.ctxErr(ctx, fmt.Errorf("read header: %w", err))
	}
	h, err := enip.DecodeHeader(raw)
	if err != nil {
		return enip.Header{}, nil, err
	}
	body := make([]byte, h.Length)
	if _, err := io.ReadFull(t.conn, body); err != nil {
		return h, nil, t.ctxErr(ctx, fmt.Errorf("read body (%d bytes): %w", h.Length, err))
	}
	return h, body, nil
}

// IsConnected returns whether the transport is connected
func (t *TCPTransport) IsConnected() bool {
	t.connMu.RLock()
	defer t.connMu.RUnlock()
	return t.conn != nil
}

// arm applies the effective deadline and makes ctx cancellation interrupt
// a blocked read or write. The returned func must be called when the
// operation finishes.
func (t *TCPTransport) arm(ctx context.Context) (func(), error) {
	var deadline time.Time
	if t.ioTimeout > 0 {
		deadline = time.Now().Add(t.ioTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := t.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}
	conn := t.conn
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	return func() { stop() }, nil
}

func (t *TCPTransport) ctxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w (%v)", ctxErr, err)
	}
	return err
}
