package client

// Typed tag reads and writes composed from the codec and a session

import (
	"context"
	"fmt"
	"time"

	"github.com/georgelake2/plcaudit/internal/cip/protocol"
	"github.com/georgelake2/plcaudit/internal/enip"
	"github.com/georgelake2/plcaudit/internal/logging"
)

// ErrTypeMismatch matches reads whose reply type differs from the one requested.
var ErrTypeMismatch = protocol.ErrTypeMismatch

// Transactor performs one SendRRData round trip. *Session implements it.
type Transactor interface {
	Transact(ctx context.Context, body []byte) ([]byte, error)
}

// Tags provides typed access to controller tags by symbolic name.
type Tags struct {
	tx     Transactor
	logger *logging.Logger
}

// NewTags binds tag operations to tx.
func NewTags(tx Transactor, logger *logging.Logger) *Tags {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Tags{tx: tx, logger: logger}
}

func (t *Tags) roundTrip(ctx context.Context, op, tag string, req []byte) ([]byte, error) {
	start := time.Now()
	body, err := t.tx.Transact(ctx, enip.WrapSendRRData(req))
	if err == nil {
		body, err = enip.ExtractUnconnectedData(body)
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrProtocol, err)
		}
	}
	t.logger.LogTransaction(op, tag, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, tag, err)
	}
	return body, nil
}

// ReadScalar reads one element of tag, whatever its type.
func (t *Tags) ReadScalar(ctx context.Context, tag string) (protocol.Value, error) {
	req, err := protocol.BuildReadRequest(tag, 1)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", tag, err)
	}
	reply, err := t.roundTrip(ctx, "read", tag, req)
	if err != nil {
		return nil, err
	}
	v, err := protocol.ParseReadReply(reply)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", tag, err)
	}
	return v, nil
}

func (t *Tags) readTyped(ctx context.Context, tag string, want protocol.DataType) (protocol.Value, error) {
	v, err := t.ReadScalar(ctx, tag)
	if err != nil {
		return nil, err
	}
	if v.Type() != want {
		return nil, fmt.Errorf("read %s: %w", tag, &protocol.TypeMismatchError{Want: want, Got: v.Type()})
	}
	return v, nil
}

// ReadDint reads a DINT tag.
func (t *Tags) ReadDint(ctx context.Context, tag string) (int32, error) {
	v, err := t.readTyped(ctx, tag, protocol.TypeDINT)
	if err != nil {
		return 0, err
	}
	return int32(v.(protocol.Dint)), nil
}

// ReadLint reads a LINT tag.
func (t *Tags) ReadLint(ctx context.Context, tag string) (int64, error) {
	v, err := t.readTyped(ctx, tag, protocol.TypeLINT)
	if err != nil {
		return 0, err
	}
	return int64(v.(protocol.Lint)), nil
}

// ReadReal reads a REAL tag.
func (t *Tags) ReadReal(ctx context.Context, tag string) (float32, error) {
	v, err := t.readTyped(ctx, tag, protocol.TypeREAL)
	if err != nil {
		return 0, err
	}
	return float32(v.(protocol.Real)), nil
}

// ReadDintArray reads the first n elements of a DINT array tag.
func (t *Tags) ReadDintArray(ctx context.Context, tag string, n int) ([]int32, error) {
	if n <= 0 || n > 0xFFFF {
		return nil, fmt.Errorf("read %s: element count %d out of range", tag, n)
	}
	req, err := protocol.BuildReadRequest(tag, uint16(n))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", tag, err)
	}
	reply, err := t.roundTrip(ctx, "read", tag, req)
	if err != nil {
		return nil, err
	}
	out, err := protocol.ParseDintArray(reply, n)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", tag, err)
	}
	return out, nil
}

// ReadDintArray7 reads a DINT[7], the layout of the controller clock.
func (t *Tags) ReadDintArray7(ctx context.Context, tag string) ([7]int32, error) {
	var out [7]int32
	vals, err := t.ReadDintArray(ctx, tag, 7)
	if err != nil {
		return out, err
	}
	copy(out[:], vals)
	return out, nil
}

// WriteValue writes a single scalar.
func (t *Tags) WriteValue(ctx context.Context, tag string, v protocol.Value) error {
	req, err := protocol.BuildWriteRequest(tag, v)
	if err != nil {
		return fmt.Errorf("write %s: %w", tag, err)
	}
	reply, err := t.roundTrip(ctx, "write", tag, req)
	if err != nil {
		return err
	}
	if err := protocol.ParseWriteReply(reply); err != nil {
		return fmt.Errorf("write %s: %w", tag, err)
	}
	return nil
}

func (t *Tags) WriteBool(ctx context.Context, tag string, value bool) error {
	return t.WriteValue(ctx, tag, protocol.Bool(value))
}

func (t *Tags) WriteDint(ctx context.Context, tag string, value int32) error {
	return t.WriteValue(ctx, tag, protocol.Dint(value))
}

// IncrementDint reads tag, adds one and writes the result back, returning
// the value written.
//
// The read and the write are separate transactions. A write to the same
// tag by anyone else in between is silently overwritten, so the counter
// can lose increments under concurrent writers. Callers use it only for
// low-rate counters where that is acceptable.
func (t *Tags) IncrementDint(ctx context.Context, tag string) (int32, error) {
	cur, err := t.ReadDint(ctx, tag)
	if err != nil {
		return 0, err
	}
	next := cur + 1
	if err := t.WriteDint(ctx, tag, next); err != nil {
		return 0, err
	}
	return next, nil
}
