package protocol

import (
	"fmt"

	"github.com/georgelake2/plcaudit/internal/cip/codec"
)

// Reply is a decoded CIP reply header plus its unparsed data.
type Reply struct {
	Service   uint8 // request service, reply flag cleared
	Status    uint8
	ExtStatus []uint16
	Data      []byte
}

// ParseReply validates the reply flag and general status. The extended
// status words are always consumed so a truncated reply is rejected even
// when the status is nonzero. A nonzero status returns *StatusError along
// with the partially filled Reply.
func ParseReply(data []byte) (Reply, error) {
	var rep Reply
	r := codec.NewReader(data)

	svc, err := r.Uint8()
	if err != nil {
		return rep, fmt.Errorf("reply service: %w", err)
	}
	if svc&ReplyFlag == 0 {
		return rep, fmt.Errorf("%w: service byte 0x%02X", ErrNotReply, svc)
	}
	rep.Service = svc &^ ReplyFlag

	if err := r.Skip(1); err != nil {
		return rep, fmt.Errorf("reply reserved byte: %w", err)
	}
	if rep.Status, err = r.Uint8(); err != nil {
		return rep, fmt.Errorf("reply status: %w", err)
	}
	words, err := r.Uint8()
	if err != nil {
		return rep, fmt.Errorf("reply extended status size: %w", err)
	}
	for i := 0; i < int(words); i++ {
		w, err := r.Uint16()
		if err != nil {
			return rep, fmt.Errorf("reply extended status: %w", err)
		}
		rep.ExtStatus = append(rep.ExtStatus, w)
	}
	if rep.Status != StatusSuccess {
		return rep, &StatusError{Service: rep.Service, Status: rep.Status, ExtStatus: rep.ExtStatus}
	}
	rep.Data = r.Rest()
	return rep, nil
}

// ParseReadReply decodes a single-element Read Tag reply.
func ParseReadReply(data []byte) (Value, error) {
	rep, err := ParseReply(data)
	if err != nil {
		return nil, err
	}
	r := codec.NewReader(rep.Data)
	typ, err := r.Uint16()
	if err != nil {
		return nil, fmt.Errorf("reply type id: %w", err)
	}
	v, err := decodeValue(DataType(typ), r)
	if err != nil {
		return nil, fmt.Errorf("reply value: %w", err)
	}
	return v, nil
}

// ParseDintArray decodes the first n elements of a DINT array Read Tag reply.
func ParseDintArray(data []byte, n int) ([]int32, error) {
	rep, err := ParseReply(data)
	if err != nil {
		return nil, err
	}
	r := codec.NewReader(rep.Data)
	typ, err := r.Uint16()
	if err != nil {
		return nil, fmt.Errorf("reply type id: %w", err)
	}
	if DataType(typ) != TypeDINT {
		if !DataType(typ).Supported() {
			return nil, &UnsupportedTypeError{TypeID: typ}
		}
		return nil, &TypeMismatchError{Want: TypeDINT, Got: DataType(typ)}
	}
	if r.Len() < 4*n {
		return nil, fmt.Errorf("DINT[%d] needs %d bytes, reply has %d: %w", n, 4*n, r.Len(), codec.ErrShortBuffer)
	}
	out := make([]int32, n)
	for i := range out {
		u, err := r.Uint32()
		if err != nil {
			return nil, err
		}
		out[i] = int32(u)
	}
	return out, nil
}

// ParseWriteReply checks a Write Tag reply for success. No data is expected.
func ParseWriteReply(data []byte) error {
	_, err := ParseReply(data)
	return err
}

// BuildReply encodes a reply to service with the given status and data.
func BuildReply(service, status uint8, ext []uint16, data []byte) []byte {
	out := make([]byte, 0, 4+2*len(ext)+len(data))
	out = append(out, service|ReplyFlag, 0x00, status, byte(len(ext)))
	for _, w := range ext {
		out = codec.AppendUint16(out, w)
	}
	return append(out, data...)
}

// BuildReadReply encodes a successful Read Tag reply carrying values,
// which must all share one type.
func BuildReadReply(values ...Value) ([]byte, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("read reply needs at least one value")
	}
	typ := values[0].Type()
	data := codec.AppendUint16(nil, uint16(typ))
	for _, v := range values {
		if v.Type() != typ {
			return nil, &TypeMismatchError{Want: typ, Got: v.Type()}
		}
		data = v.AppendTo(data)
	}
	return BuildReply(ServiceReadTag, StatusSuccess, nil, data), nil
}
